package dcgan_go

import (
	"fmt"

	"gorgonia.org/gorgonia"
)

// ActivationFunc Element-wise activation applied to layer output. Options are ignored by functions without parameters.
type ActivationFunc func(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error)

func NoActivation(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error) { return a, nil }
func Tanh(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error)         { return gorgonia.Tanh(a) }
func Sigmoid(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error)      { return gorgonia.Sigmoid(a) }
func Rectify(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error)      { return gorgonia.Rectify(a) }
func LeakyRelu(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error) {
	for i := range opts {
		// First i-th option with provided field 'Alpha' would be considered for use.
		if opts[i].Alpha != 0 {
			return gorgonia.LeakyRelu(a, opts[i].Alpha)
		}
	}
	return gorgonia.LeakyRelu(a, 0.2)
}

// Options Struct for holding options for certain activation functions.
type Options struct {
	// Slope of negative part for LeakyRelu
	Alpha float64
}

var activations = map[string]ActivationFunc{
	"linear":  NoActivation,
	"tanh":    Tanh,
	"sigmoid": Sigmoid,
	"relu":    Rectify,
	"lrelu":   LeakyRelu,
}

// ParseActivation Returns activation function by its name
func ParseActivation(name string) (ActivationFunc, error) {
	fn, ok := activations[name]
	if !ok {
		return nil, fmt.Errorf("Activation function '%s' is not handled", name)
	}
	return fn, nil
}
