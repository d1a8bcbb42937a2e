package dcgan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

type LayerType uint16

const (
	LayerLinear = LayerType(iota)
	LayerConvolutional
	LayerDeconvolutional
)

func (lt LayerType) String() string {
	switch lt {
	case LayerLinear:
		return "linear"
	case LayerConvolutional:
		return "conv2d"
	case LayerDeconvolutional:
		return "deconv2d"
	default:
		return fmt.Sprintf("LayerType(%d)", uint16(lt))
	}
}

// Weights of every layer are drawn from N(0, stddev)
const weightStddev = 0.02

// Layer Description of single weighted layer. Parameters live in ParamStore under "<Name>/w" and "<Name>/b".
//
// Name - layer name, its prefix decides the parameter group
// Type - kind of layer
// Output - number of output features (linear) or channels (convolutions)
// TargetHeight, TargetWidth - spatial size produced by deconvolution
//
type Layer struct {
	Name   string
	Type   LayerType
	Output int

	KernelHeight int
	KernelWidth  int
	Padding      []int
	Stride       []int
	Dilation     []int

	TargetHeight int
	TargetWidth  int
}

// Linear Dense layer
func Linear(name string, output int) *Layer {
	return &Layer{Name: name, Type: LayerLinear, Output: output}
}

// Conv 5x5 convolution with stride 2 and 'same' padding: output size is ceil(input/2)
func Conv(name string, output int) *Layer {
	return &Layer{
		Name:         name,
		Type:         LayerConvolutional,
		Output:       output,
		KernelHeight: 5,
		KernelWidth:  5,
		Padding:      []int{2, 2},
		Stride:       []int{2, 2},
		Dilation:     []int{1, 1},
	}
}

// Deconv Nearest neighbour resize to target size followed by 5x5 convolution with stride 1 and 'same' padding
func Deconv(name string, output, targetHeight, targetWidth int) *Layer {
	return &Layer{
		Name:         name,
		Type:         LayerDeconvolutional,
		Output:       output,
		KernelHeight: 5,
		KernelWidth:  5,
		Padding:      []int{2, 2},
		Stride:       []int{1, 1},
		Dilation:     []int{1, 1},
		TargetHeight: targetHeight,
		TargetWidth:  targetWidth,
	}
}

// Fwd Applies layer to input
//
// s - scope of the graph
// input - [N, F] for linear layer, [N, C, H, W] for convolutions
// reuse - reference existing weights instead of creating them
//
func (l *Layer) Fwd(s *Scope, input *gorgonia.Node, reuse bool) (*gorgonia.Node, error) {
	switch l.Type {
	case LayerLinear:
		return l.linear(s, input, reuse)
	case LayerConvolutional:
		return l.conv(s, input, reuse)
	case LayerDeconvolutional:
		if input.Dims() != 4 {
			return nil, fmt.Errorf("Layer '%s' expects 4D input, but got shape %v", l.Name, input.Shape())
		}
		shp := input.Shape()
		if err := checkUpsampleStage(shp[2], l.TargetHeight); err != nil {
			return nil, errors.Wrapf(err, "Layer '%s'", l.Name)
		}
		if err := checkUpsampleStage(shp[3], l.TargetWidth); err != nil {
			return nil, errors.Wrapf(err, "Layer '%s'", l.Name)
		}
		resized, err := ResizeNearest(s.g, input, l.TargetHeight, l.TargetWidth)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't resize input of layer '%s'", l.Name)
		}
		return l.conv(s, resized, reuse)
	default:
		return nil, fmt.Errorf("Layer '%s' type '%d' (uint16) is not handled", l.Name, l.Type)
	}
}

func (l *Layer) linear(s *Scope, input *gorgonia.Node, reuse bool) (*gorgonia.Node, error) {
	if input.Dims() != 2 {
		return nil, fmt.Errorf("Layer '%s' expects 2D input, but got shape %v", l.Name, input.Shape())
	}
	inFeatures := input.Shape()[1]
	weights, err := s.Variable(l.Name+"/w", tensor.Shape{l.Output, inFeatures}, gorgonia.Gaussian(0, weightStddev), reuse)
	if err != nil {
		return nil, err
	}
	bias, err := s.Variable(l.Name+"/b", tensor.Shape{1, l.Output}, gorgonia.Zeroes(), reuse)
	if err != nil {
		return nil, err
	}
	tOp, err := gorgonia.Transpose(weights)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't transpose weights of layer '%s'", l.Name)
	}
	out, err := gorgonia.Mul(input, tOp)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't multiply input and weights of layer '%s'", l.Name)
	}
	out, err = gorgonia.BroadcastAdd(out, bias, nil, []byte{0})
	if err != nil {
		return nil, errors.Wrapf(err, "Can't add bias to output of layer '%s'", l.Name)
	}
	return out, nil
}

// conv Convolution has no bias: batch norm shift (or the following linear layer) plays its role
func (l *Layer) conv(s *Scope, x *gorgonia.Node, reuse bool) (*gorgonia.Node, error) {
	if x.Dims() != 4 {
		return nil, fmt.Errorf("Layer '%s' expects 4D input, but got shape %v", l.Name, x.Shape())
	}
	inChannels := x.Shape()[1]
	filter, err := s.Variable(l.Name+"/w", tensor.Shape{l.Output, inChannels, l.KernelHeight, l.KernelWidth}, gorgonia.Gaussian(0, weightStddev), reuse)
	if err != nil {
		return nil, err
	}
	out, err := gorgonia.Conv2d(x, filter, tensor.Shape{l.KernelHeight, l.KernelWidth}, l.Padding, l.Stride, l.Dilation)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't convolve[2D] input by kernel of layer '%s'", l.Name)
	}
	return out, nil
}

// ResizeNearest Nearest neighbour resize of [N, C, H, W] node to [N, C, outH, outW].
// Both axes are resized by multiplication with constant 0/1 selection matrices, so doubling and cropping are one op.
func ResizeNearest(g *gorgonia.ExprGraph, x *gorgonia.Node, outH, outW int) (*gorgonia.Node, error) {
	shp := x.Shape().Clone()
	n, c, h, w := shp[0], shp[1], shp[2], shp[3]
	selW := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(w, outW), gorgonia.WithName(fmt.Sprintf("resize_%d_%d", w, outW)), gorgonia.WithValue(nearestSelection(w, outW)))
	selH := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(h, outH), gorgonia.WithName(fmt.Sprintf("resize_%d_%d", h, outH)), gorgonia.WithValue(nearestSelection(h, outH)))

	// [N*C*H, W] x [W, outW]
	rows, err := gorgonia.Reshape(x, tensor.Shape{n * c * h, w})
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape rows")
	}
	wide, err := gorgonia.Mul(rows, selW)
	if err != nil {
		return nil, errors.Wrap(err, "Can't resize width")
	}
	// [N*C, H, outW] -> [N*C, outW, H]
	wide3, err := gorgonia.Reshape(wide, tensor.Shape{n * c, h, outW})
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape resized rows")
	}
	cols, err := gorgonia.Transpose(wide3, 0, 2, 1)
	if err != nil {
		return nil, errors.Wrap(err, "Can't transpose to columns")
	}
	// [N*C*outW, H] x [H, outH]
	cols2, err := gorgonia.Reshape(cols, tensor.Shape{n * c * outW, h})
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape columns")
	}
	tall, err := gorgonia.Mul(cols2, selH)
	if err != nil {
		return nil, errors.Wrap(err, "Can't resize height")
	}
	tall3, err := gorgonia.Reshape(tall, tensor.Shape{n * c, outW, outH})
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape resized columns")
	}
	back, err := gorgonia.Transpose(tall3, 0, 2, 1)
	if err != nil {
		return nil, errors.Wrap(err, "Can't transpose back to rows")
	}
	return gorgonia.Reshape(back, tensor.Shape{n, c, outH, outW})
}

// nearestSelection Matrix [in, out] with single 1 in every column: column j picks input row floor(j*in/out)
func nearestSelection(in, out int) *tensor.Dense {
	data := make([]float64, in*out)
	for j := 0; j < out; j++ {
		src := j * in / out
		data[src*out+j] = 1
	}
	return tensor.New(tensor.WithShape(in, out), tensor.WithBacking(data))
}

// Flatten Reshapes [N, ...] node to [N, prod(...)]
func Flatten(x *gorgonia.Node) (*gorgonia.Node, error) {
	shp := x.Shape()
	if x.Dims() == 2 {
		return x, nil
	}
	return gorgonia.Reshape(x, tensor.Shape{shp[0], shp.TotalSize() / shp[0]})
}

// ConcatLabels Concatenates conditioning input along feature/channel axis.
// Dense inputs take label batch [N, Y], convolutional inputs take label map [N, Y, H, W].
// NCHW samples are contiguous, so channel concatenation is done on rows flattened to [N, C*H*W].
func ConcatLabels(x, labels *gorgonia.Node) (*gorgonia.Node, error) {
	if x.Dims() != labels.Dims() {
		return nil, errors.Wrapf(ErrShapeMismatch, "can't concatenate %v and labels %v", x.Shape(), labels.Shape())
	}
	switch x.Dims() {
	case 2:
		out, err := concatColumns(x, labels)
		if err != nil {
			return nil, errors.Wrap(err, "Can't concatenate labels")
		}
		return out, nil
	case 4:
		xShp, yShp := x.Shape().Clone(), labels.Shape().Clone()
		if xShp[0] != yShp[0] || xShp[2] != yShp[2] || xShp[3] != yShp[3] {
			return nil, errors.Wrapf(ErrShapeMismatch, "can't concatenate %v and label map %v", xShp, yShp)
		}
		flatX, err := Flatten(x)
		if err != nil {
			return nil, errors.Wrap(err, "Can't flatten feature map")
		}
		flatY, err := Flatten(labels)
		if err != nil {
			return nil, errors.Wrap(err, "Can't flatten label map")
		}
		rows, err := concatColumns(flatX, flatY)
		if err != nil {
			return nil, errors.Wrap(err, "Can't concatenate label map")
		}
		return gorgonia.Reshape(rows, tensor.Shape{xShp[0], xShp[1] + yShp[1], xShp[2], xShp[3]})
	default:
		return nil, fmt.Errorf("Labels can be concatenated to 2D or 4D input only, but got shape %v", x.Shape())
	}
}

// concatColumns [N, A] and [N, B] -> [N, A+B].
// Gradient of Concat drops the axis of single column operand, such operands are placed by constant 0/1 matrices instead.
func concatColumns(a, b *gorgonia.Node) (*gorgonia.Node, error) {
	if a.Shape()[0] != b.Shape()[0] {
		return nil, errors.Wrapf(ErrShapeMismatch, "rows of %v and %v differ", a.Shape(), b.Shape())
	}
	wa, wb := a.Shape()[1], b.Shape()[1]
	if wa > 1 && wb > 1 {
		return gorgonia.Concat(1, a, b)
	}
	g := a.Graph()
	total := wa + wb
	left := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(wa, total), gorgonia.WithName(fmt.Sprintf("place_%d_%d_%d", wa, total, 0)), gorgonia.WithValue(placement(wa, total, 0)))
	right := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(wb, total), gorgonia.WithName(fmt.Sprintf("place_%d_%d_%d", wb, total, wa)), gorgonia.WithValue(placement(wb, total, wa)))
	placedA, err := gorgonia.Mul(a, left)
	if err != nil {
		return nil, errors.Wrap(err, "Can't place left operand")
	}
	placedB, err := gorgonia.Mul(b, right)
	if err != nil {
		return nil, errors.Wrap(err, "Can't place right operand")
	}
	return gorgonia.Add(placedA, placedB)
}

// placement Matrix [in, out] which moves column i to column offset+i
func placement(in, out, offset int) *tensor.Dense {
	data := make([]float64, in*out)
	for i := 0; i < in; i++ {
		data[i*out+offset+i] = 1
	}
	return tensor.New(tensor.WithShape(in, out), tensor.WithBacking(data))
}
