package dcgan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

type generatorBuilder struct {
	net   *Network
	cfg   Config
	mode  BatchNormMode
	reuse bool
}

func (b *generatorBuilder) layer(l *Layer, x *gorgonia.Node) (*gorgonia.Node, error) {
	out, err := l.Fwd(b.net.scope, x, b.reuse)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't apply generator layer '%s'", l.Name)
	}
	gorgonia.WithName(b.net.Name + "_" + l.Name)(out)
	return out, nil
}

func (b *generatorBuilder) bnRelu(name string, x *gorgonia.Node) (*gorgonia.Node, error) {
	normed, err := BatchNorm(b.net.scope, name, x, b.mode, b.cfg.BatchNormMomentum, b.cfg.BatchNormEpsilon, b.reuse)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't apply generator batch norm '%s'", name)
	}
	activated, err := Rectify(normed)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't apply ReLU after '%s'", name)
	}
	return activated, nil
}

// withLabelMap Concatenates label map of x's spatial size
func (b *generatorBuilder) withLabelMap(x *gorgonia.Node) (*gorgonia.Node, error) {
	shp := x.Shape()
	return ConcatLabels(x, b.net.maps.Map(shp[2], shp[3]))
}

// Generator Defines generator on network's graph. Output is [batch, ImageSize, ImageSize, Channels] (NHWC).
//
// net - network which provides latent/label inputs and parameter scope
// cfg - model configuration, its variant decides topology
// mode - batch norm statistics mode: training for optimizer graphs, inference for sampler
// reuse - reference generator parameters created earlier (sampler and every graph after the first one)
//
func Generator(net *Network, cfg Config, mode BatchNormMode, reuse bool) (*gorgonia.Node, error) {
	schedule, err := UpsampleSchedule(cfg.ImageSize)
	if err != nil {
		return nil, err
	}
	activation, err := ParseActivation(cfg.OutputActivation)
	if err != nil {
		return nil, err
	}
	b := &generatorBuilder{net: net, cfg: cfg, mode: mode, reuse: reuse}

	var h *gorgonia.Node
	variant := cfg.Variant()
	switch variant {
	case FullyConnectedConditional:
		h, err = b.fullyConnected(schedule)
	case ConditionalConvolutional:
		h, err = b.convolutional(schedule, true)
	case PlainConvolutional:
		h, err = b.convolutional(schedule, false)
	default:
		return nil, fmt.Errorf("Generator variant '%s' is not handled", variant)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "Can't define %s generator", variant)
	}
	activated, err := activation(h)
	if err != nil {
		return nil, errors.Wrap(err, "Can't apply output activation of generator")
	}
	out, err := gorgonia.Transpose(activated, 0, 2, 3, 1)
	if err != nil {
		return nil, errors.Wrap(err, "Can't transpose generator output to NHWC")
	}
	gorgonia.WithName(net.Name + "_generator_out")(out)
	expected := tensor.Shape{net.batch, cfg.ImageSize, cfg.ImageSize, cfg.Channels}
	if !out.Shape().Eq(expected) {
		return nil, errors.Wrapf(ErrShapeMismatch, "generator produces %v, configured %v", out.Shape(), expected)
	}
	return out, nil
}

// fullyConnected z+y -> dense -> dense -> reshape (s/4) -> deconv (s/2) -> deconv (s)
func (b *generatorBuilder) fullyConnected(schedule []int) (*gorgonia.Node, error) {
	s, s2, s4 := schedule[0], schedule[1], schedule[2]
	cfg := b.cfg

	z, err := ConcatLabels(b.net.z, b.net.y)
	if err != nil {
		return nil, err
	}
	h0, err := b.layer(Linear("g_h0_lin", cfg.GFCDim), z)
	if err != nil {
		return nil, err
	}
	if h0, err = b.bnRelu("g_bn0", h0); err != nil {
		return nil, err
	}
	if h0, err = ConcatLabels(h0, b.net.y); err != nil {
		return nil, err
	}

	h1, err := b.layer(Linear("g_h1_lin", cfg.GFDim*2*s4*s4), h0)
	if err != nil {
		return nil, err
	}
	if h1, err = b.bnRelu("g_bn1", h1); err != nil {
		return nil, err
	}
	if h1, err = gorgonia.Reshape(h1, tensor.Shape{b.net.batch, cfg.GFDim * 2, s4, s4}); err != nil {
		return nil, errors.Wrap(err, "Can't reshape projection to feature map")
	}
	if h1, err = b.withLabelMap(h1); err != nil {
		return nil, err
	}

	h2, err := b.layer(Deconv("g_h2", cfg.GFDim*2, s2, s2), h1)
	if err != nil {
		return nil, err
	}
	if h2, err = b.bnRelu("g_bn2", h2); err != nil {
		return nil, err
	}
	if h2, err = b.withLabelMap(h2); err != nil {
		return nil, err
	}

	return b.layer(Deconv("g_h3", cfg.Channels, s, s), h2)
}

// convolutional z(+y) -> dense projection (s/16) -> 4 deconv stages, label map injected before each when conditional
func (b *generatorBuilder) convolutional(schedule []int, conditional bool) (*gorgonia.Node, error) {
	s16 := schedule[4]
	cfg := b.cfg

	z := b.net.z
	var err error
	if conditional {
		if z, err = ConcatLabels(z, b.net.y); err != nil {
			return nil, err
		}
	}
	h, err := b.layer(Linear("g_h0_lin", cfg.GFDim*8*s16*s16), z)
	if err != nil {
		return nil, err
	}
	if h, err = gorgonia.Reshape(h, tensor.Shape{b.net.batch, cfg.GFDim * 8, s16, s16}); err != nil {
		return nil, errors.Wrap(err, "Can't reshape projection to feature map")
	}
	if h, err = b.bnRelu("g_bn0", h); err != nil {
		return nil, err
	}

	// Stages walk schedule from s/8 up to s; the last one has no batch norm
	channels := []int{cfg.GFDim * 4, cfg.GFDim * 2, cfg.GFDim, cfg.Channels}
	for stage := 1; stage <= 4; stage++ {
		if conditional {
			if h, err = b.withLabelMap(h); err != nil {
				return nil, err
			}
		}
		size := schedule[4-stage]
		if h, err = b.layer(Deconv(fmt.Sprintf("g_h%d", stage), channels[stage-1], size, size), h); err != nil {
			return nil, err
		}
		if stage == 4 {
			break
		}
		if h, err = b.bnRelu(fmt.Sprintf("g_bn%d", stage), h); err != nil {
			return nil, err
		}
	}
	return h, nil
}
