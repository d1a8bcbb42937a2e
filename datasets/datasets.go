// Package datasets Training sets for dcgan_go: idx-encoded MNIST, Pokemon with types.csv labels,
// arbitrary image folders and in-memory arrays.
package datasets

import (
	"fmt"
	"path/filepath"
	"strings"

	dcgan "github.com/LdDl/dcgan-go"
	"k8s.io/klog/v2"
)

const (
	// NameMNIST Dataset name which selects idx loader
	NameMNIST = "mnist"
	// PrefixPokemon Dataset names starting with this prefix use types.csv labels
	PrefixPokemon = "pokemon"
)

// Options Where and how to read dataset
//
// DataDir - root data directory; dataset files live in DataDir/<name>
// Pattern - file name glob pattern, e.g. "*.png"
// ImageSize - side of square image
// Channels - 1 (grayscale) or 3 (RGB)
// LabelDim - number of label classes, 0 for unconditional training
//
type Options struct {
	DataDir   string
	Pattern   string
	ImageSize int
	Channels  int
	LabelDim  int
}

// Dir Directory of named dataset
func (opts Options) Dir(name string) string {
	return filepath.Join(opts.DataDir, filepath.FromSlash(name))
}

// Open Selects dataset regime by name
//
// "mnist" - in-memory arrays, sequential batches
// "pokemon*" - in-memory arrays, batches drawn uniformly with replacement
// anything else - files matching pattern listed again every epoch, unconditional only
//
func Open(name string, opts Options) (dcgan.TrainSet, error) {
	switch {
	case name == NameMNIST:
		klog.Infof("Loading MNIST from %s", opts.Dir(name))
		return LoadMNIST(opts.Dir(name), opts.LabelDim)
	case strings.HasPrefix(name, PrefixPokemon):
		klog.Infof("Loading Pokemon from %s", opts.Dir(name))
		return LoadPokemon(name, opts.Dir(name), opts.Pattern, opts.ImageSize, opts.Channels, opts.LabelDim)
	default:
		if opts.LabelDim > 0 {
			return nil, fmt.Errorf("Dataset '%s' has no labels, but %d label classes requested", name, opts.LabelDim)
		}
		return NewGlobDataset(name, filepath.Join(opts.Dir(name), opts.Pattern), opts.ImageSize, opts.Channels)
	}
}
