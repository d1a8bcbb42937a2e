package dcgan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// BatchNormMode Which statistics batch normalization uses
type BatchNormMode uint16

const (
	// BatchNormTraining Normalize by statistics of current batch and move running statistics after run
	BatchNormTraining = BatchNormMode(iota)
	// BatchNormInference Normalize by running statistics and never touch them
	BatchNormInference
)

func (m BatchNormMode) String() string {
	if m == BatchNormInference {
		return "inference"
	}
	return "training"
}

// BatchNormState Running statistics of single batch normalization layer.
// Scale (gamma) and shift (beta) are trainable and live in ParamStore as "<name>/gamma" and "<name>/beta".
type BatchNormState struct {
	Name     string
	Channels int
	Momentum float64
	Epsilon  float64

	// Both are [1, Channels]
	MovingMean     *tensor.Dense
	MovingVariance *tensor.Dense
}

// NewBatchNormState Creates state with zero mean and unit variance
func NewBatchNormState(name string, channels int, momentum, epsilon float64) *BatchNormState {
	return &BatchNormState{
		Name:           name,
		Channels:       channels,
		Momentum:       momentum,
		Epsilon:        epsilon,
		MovingMean:     tensor.New(tensor.WithShape(1, channels), tensor.WithBacking(make([]float64, channels))),
		MovingVariance: tensor.Ones(tensor.Float64, 1, channels),
	}
}

// Update Moves running statistics towards batch statistics: m = momentum*m + (1-momentum)*batch
func (s *BatchNormState) Update(batchMean, batchVariance []float64) error {
	if len(batchMean) != s.Channels || len(batchVariance) != s.Channels {
		return errors.Wrapf(ErrShapeMismatch, "batch norm '%s' has %d channels, but got %d means and %d variances", s.Name, s.Channels, len(batchMean), len(batchVariance))
	}
	mean := s.MovingMean.Float64s()
	floats.Scale(s.Momentum, mean)
	floats.AddScaled(mean, 1-s.Momentum, batchMean)
	variance := s.MovingVariance.Float64s()
	floats.Scale(s.Momentum, variance)
	floats.AddScaled(variance, 1-s.Momentum, batchVariance)
	return nil
}

type batchNormRun struct {
	state *BatchNormState

	// training mode
	meanValue     gorgonia.Value
	varianceValue gorgonia.Value

	// inference mode
	meanNode     *gorgonia.Node
	varianceNode *gorgonia.Node
}

func (run *batchNormRun) commit() error {
	mean, err := float64sOf(run.meanValue)
	if err != nil {
		return errors.Wrapf(err, "Can't read batch mean of '%s'", run.state.Name)
	}
	variance, err := float64sOf(run.varianceValue)
	if err != nil {
		return errors.Wrapf(err, "Can't read batch variance of '%s'", run.state.Name)
	}
	return run.state.Update(mean, variance)
}

func (run *batchNormRun) feed() error {
	// Graph gets copies so nothing it does could leak into running statistics
	if err := gorgonia.Let(run.meanNode, run.state.MovingMean.Clone().(*tensor.Dense)); err != nil {
		return errors.Wrapf(err, "Can't feed moving mean of '%s'", run.state.Name)
	}
	if err := gorgonia.Let(run.varianceNode, run.state.MovingVariance.Clone().(*tensor.Dense)); err != nil {
		return errors.Wrapf(err, "Can't feed moving variance of '%s'", run.state.Name)
	}
	return nil
}

// BatchNorm Applies batch normalization over every axis except channels.
//
// s - scope of the graph
// name - layer name (e.g. "g_bn0"), its prefix decides the parameter group
// x - node of shape [N, C] or [N, C, H, W]
// mode - statistics mode
// momentum, epsilon - used when state is created
// reuse - reference existing layer instead of creating it
//
func BatchNorm(s *Scope, name string, x *gorgonia.Node, mode BatchNormMode, momentum, epsilon float64, reuse bool) (*gorgonia.Node, error) {
	shp := x.Shape().Clone()
	var flat *gorgonia.Node
	var err error
	switch len(shp) {
	case 2:
		flat = x
	case 4:
		nhwc, err := gorgonia.Transpose(x, 0, 2, 3, 1)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't transpose input of '%s' to NHWC", name)
		}
		flat, err = gorgonia.Reshape(nhwc, tensor.Shape{shp[0] * shp[2] * shp[3], shp[1]})
		if err != nil {
			return nil, errors.Wrapf(err, "Can't flatten input of '%s'", name)
		}
	default:
		return nil, fmt.Errorf("Batch norm '%s' expects 2D or 4D input, but got shape %v", name, shp)
	}
	channels := shp[1]

	state, ok := s.store.norms[name]
	if reuse {
		if !ok {
			return nil, errors.Wrapf(ErrVariableNotFound, "batch norm '%s' (reuse declared)", name)
		}
		if state.Channels != channels {
			return nil, errors.Wrapf(ErrShapeMismatch, "batch norm '%s' has %d channels, input has %d", name, state.Channels, channels)
		}
	} else {
		if ok {
			return nil, errors.Wrapf(ErrReuseNotDeclared, "batch norm '%s'", name)
		}
		state = NewBatchNormState(name, channels, momentum, epsilon)
	}
	gamma, err := s.Variable(name+"/gamma", tensor.Shape{1, channels}, gorgonia.Ones(), reuse)
	if err != nil {
		return nil, err
	}
	beta, err := s.Variable(name+"/beta", tensor.Shape{1, channels}, gorgonia.Zeroes(), reuse)
	if err != nil {
		return nil, err
	}
	if !reuse {
		s.store.norms[name] = state
		s.store.normsOrder = append(s.store.normsOrder, name)
	}

	run := &batchNormRun{state: state}
	var mean, variance, centered *gorgonia.Node
	switch mode {
	case BatchNormTraining:
		meanVec, err := gorgonia.Mean(flat, 0)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't compute batch mean of '%s'", name)
		}
		if mean, err = gorgonia.Reshape(meanVec, tensor.Shape{1, channels}); err != nil {
			return nil, errors.Wrapf(err, "Can't reshape batch mean of '%s'", name)
		}
		if centered, err = gorgonia.BroadcastSub(flat, mean, nil, []byte{0}); err != nil {
			return nil, errors.Wrapf(err, "Can't center input of '%s'", name)
		}
		sqr, err := gorgonia.Square(centered)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't do (x^2) in '%s'", name)
		}
		varVec, err := gorgonia.Mean(sqr, 0)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't compute batch variance of '%s'", name)
		}
		if variance, err = gorgonia.Reshape(varVec, tensor.Shape{1, channels}); err != nil {
			return nil, errors.Wrapf(err, "Can't reshape batch variance of '%s'", name)
		}
		gorgonia.Read(mean, &run.meanValue)
		gorgonia.Read(variance, &run.varianceValue)
		s.trainNorms = append(s.trainNorms, run)
	case BatchNormInference:
		mean = gorgonia.NewMatrix(s.g, gorgonia.Float64, gorgonia.WithShape(1, channels), gorgonia.WithName(name+"/moving_mean"))
		variance = gorgonia.NewMatrix(s.g, gorgonia.Float64, gorgonia.WithShape(1, channels), gorgonia.WithName(name+"/moving_variance"))
		if centered, err = gorgonia.BroadcastSub(flat, mean, nil, []byte{0}); err != nil {
			return nil, errors.Wrapf(err, "Can't center input of '%s'", name)
		}
		run.meanNode, run.varianceNode = mean, variance
		s.inferNorms = append(s.inferNorms, run)
	default:
		return nil, fmt.Errorf("Batch norm mode %d is not handled", mode)
	}

	eps := gorgonia.NewScalar(s.g, gorgonia.Float64, gorgonia.WithName(name+"/epsilon"), gorgonia.WithValue(state.Epsilon))
	varEps, err := gorgonia.Add(variance, eps)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't do (var+eps) in '%s'", name)
	}
	invStd, err := gorgonia.InverseSqrt(varEps)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't do 1/sqrt(x) in '%s'", name)
	}
	normed, err := gorgonia.BroadcastHadamardProd(centered, invStd, nil, []byte{0})
	if err != nil {
		return nil, errors.Wrapf(err, "Can't normalize input of '%s'", name)
	}
	scaled, err := gorgonia.BroadcastHadamardProd(normed, gamma, nil, []byte{0})
	if err != nil {
		return nil, errors.Wrapf(err, "Can't scale output of '%s'", name)
	}
	out, err := gorgonia.BroadcastAdd(scaled, beta, nil, []byte{0})
	if err != nil {
		return nil, errors.Wrapf(err, "Can't shift output of '%s'", name)
	}
	if len(shp) == 2 {
		return out, nil
	}
	nhwc, err := gorgonia.Reshape(out, tensor.Shape{shp[0], shp[2], shp[3], shp[1]})
	if err != nil {
		return nil, errors.Wrapf(err, "Can't unflatten output of '%s'", name)
	}
	nchw, err := gorgonia.Transpose(nhwc, 0, 3, 1, 2)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't transpose output of '%s' to NCHW", name)
	}
	return nchw, nil
}

func float64sOf(v gorgonia.Value) ([]float64, error) {
	if v == nil {
		return nil, fmt.Errorf("Value is nil, graph has not been run yet")
	}
	switch data := v.Data().(type) {
	case []float64:
		return data, nil
	case float64:
		return []float64{data}, nil
	default:
		return nil, fmt.Errorf("Value holds %T instead of float64 data", data)
	}
}

func scalarOf(v gorgonia.Value) (float64, error) {
	data, err := float64sOf(v)
	if err != nil {
		return 0, err
	}
	if len(data) != 1 {
		return 0, fmt.Errorf("Value has %d elements, scalar expected", len(data))
	}
	return data[0], nil
}
