package dcgan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

type discriminatorBuilder struct {
	net   *Network
	cfg   Config
	reuse bool
}

func (b *discriminatorBuilder) layer(l *Layer, x *gorgonia.Node) (*gorgonia.Node, error) {
	out, err := l.Fwd(b.net.scope, x, b.reuse)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't apply discriminator layer '%s'", l.Name)
	}
	return out, nil
}

// lrelu Leaky ReLU with optional batch norm before it
func (b *discriminatorBuilder) lrelu(bnName string, x *gorgonia.Node) (*gorgonia.Node, error) {
	var err error
	if bnName != "" {
		// Discriminator always normalizes by batch statistics
		x, err = BatchNorm(b.net.scope, bnName, x, BatchNormTraining, b.cfg.BatchNormMomentum, b.cfg.BatchNormEpsilon, b.reuse)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't apply discriminator batch norm '%s'", bnName)
		}
	}
	out, err := LeakyRelu(x, Options{Alpha: b.cfg.LeakyReluAlpha})
	if err != nil {
		return nil, errors.Wrap(err, "Can't apply leaky ReLU")
	}
	return out, nil
}

func (b *discriminatorBuilder) withLabelMap(x *gorgonia.Node) (*gorgonia.Node, error) {
	shp := x.Shape()
	return ConcatLabels(x, b.net.maps.Map(shp[2], shp[3]))
}

// Discriminator Defines discriminator on network's graph.
// Every graph of the model invokes it with the same parameters: the first invocation ever creates them (reuse=false),
// every next one must declare reuse, otherwise construction fails with ErrReuseNotDeclared.
//
// net - network which provides label inputs and parameter scope
// cfg - model configuration
// images - [batch, ImageSize, ImageSize, Channels] node (real images input or generator output)
// reuse - reference discriminator parameters created earlier
//
// Returns logits [batch, 1] and their sigmoid
//
func Discriminator(net *Network, cfg Config, images *gorgonia.Node, reuse bool) (logits, probs *gorgonia.Node, err error) {
	if images.Dims() != 4 {
		return nil, nil, fmt.Errorf("Discriminator expects 4D images, but got shape %v", images.Shape())
	}
	x, err := gorgonia.Transpose(images, 0, 3, 1, 2)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't transpose discriminator input to NCHW")
	}
	b := &discriminatorBuilder{net: net, cfg: cfg, reuse: reuse}
	if cfg.Conditional() {
		logits, err = b.conditional(x)
	} else {
		logits, err = b.plain(x)
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't define discriminator")
	}
	probs, err = Sigmoid(logits)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't apply sigmoid to discriminator logits")
	}
	return logits, probs, nil
}

// conditional x+map -> conv -> +map -> conv+bn -> flatten+y -> dense+bn -> +y -> dense(1)
func (b *discriminatorBuilder) conditional(x *gorgonia.Node) (*gorgonia.Node, error) {
	cfg := b.cfg
	h, err := b.withLabelMap(x)
	if err != nil {
		return nil, err
	}
	if h, err = b.layer(Conv("d_h0_conv", cfg.Channels+cfg.LabelDim), h); err != nil {
		return nil, err
	}
	if h, err = b.lrelu("", h); err != nil {
		return nil, err
	}
	if h, err = b.withLabelMap(h); err != nil {
		return nil, err
	}

	if h, err = b.layer(Conv("d_h1_conv", cfg.DFDim+cfg.LabelDim), h); err != nil {
		return nil, err
	}
	if h, err = b.lrelu("d_bn1", h); err != nil {
		return nil, err
	}
	if h, err = Flatten(h); err != nil {
		return nil, errors.Wrap(err, "Can't flatten discriminator features")
	}
	if h, err = ConcatLabels(h, b.net.y); err != nil {
		return nil, err
	}

	if h, err = b.layer(Linear("d_h2_lin", cfg.DFCDim), h); err != nil {
		return nil, err
	}
	if h, err = b.lrelu("d_bn2", h); err != nil {
		return nil, err
	}
	if h, err = ConcatLabels(h, b.net.y); err != nil {
		return nil, err
	}
	return b.layer(Linear("d_h3_lin", 1), h)
}

// plain 4 strided convolutions -> dense(1)
func (b *discriminatorBuilder) plain(x *gorgonia.Node) (*gorgonia.Node, error) {
	cfg := b.cfg
	h, err := b.layer(Conv("d_h0_conv", cfg.DFDim), x)
	if err != nil {
		return nil, err
	}
	if h, err = b.lrelu("", h); err != nil {
		return nil, err
	}
	channels := []int{cfg.DFDim * 2, cfg.DFDim * 4, cfg.DFDim * 8}
	for i, c := range channels {
		if h, err = b.layer(Conv(fmt.Sprintf("d_h%d_conv", i+1), c), h); err != nil {
			return nil, err
		}
		if h, err = b.lrelu(fmt.Sprintf("d_bn%d", i+1), h); err != nil {
			return nil, err
		}
	}
	if h, err = Flatten(h); err != nil {
		return nil, errors.Wrap(err, "Can't flatten discriminator features")
	}
	return b.layer(Linear("d_h4_lin", 1), h)
}
