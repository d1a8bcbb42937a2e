package dcgan_go

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"math/rand"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// UniformRandDense Return reference to tensor.Dense filled with pseudo-random float64 values in range [-1.0,1.0)
//
// rng - source of randomness
// batchSize - Simply batch size
// n - Number of elements in each batch
// Resulting dense will have batchSize*n elements
//
func UniformRandDense(rng *rand.Rand, batchSize, n int) *tensor.Dense {
	data := make([]float64, batchSize*n)
	for i := range data {
		data[i] = 2*rng.Float64() - 1
	}
	return tensor.New(tensor.WithShape(batchSize, n), tensor.WithBacking(data))
}

// OneHotVector Vector of length dim with single 1 at index value
func OneHotVector(value, dim int) ([]float64, error) {
	if value < 0 || value >= dim {
		return nil, fmt.Errorf("Label %d is out of range [0;%d)", value, dim)
	}
	v := make([]float64, dim)
	v[value] = 1
	return v, nil
}

// OneHotEncode Encodes labels into [len(labels), dim] tensor
func OneHotEncode(labels []int, dim int) (*tensor.Dense, error) {
	data := make([]float64, 0, len(labels)*dim)
	for i, label := range labels {
		v, err := OneHotVector(label, dim)
		if err != nil {
			return nil, errors.Wrapf(err, "Sample #%d", i)
		}
		data = append(data, v...)
	}
	return tensor.New(tensor.WithShape(len(labels), dim), tensor.WithBacking(data)), nil
}

// SampleLabels Deterministic labels of preview batch: every label value repeated sampleNum times in a row
func SampleLabels(labelDim, sampleNum int) (*tensor.Dense, error) {
	labels := make([]int, 0, labelDim*sampleNum)
	for j := 0; j < labelDim; j++ {
		for i := 0; i < sampleNum; i++ {
			labels = append(labels, j)
		}
	}
	return OneHotEncode(labels, labelDim)
}

// ImageGrid Tiles images [N, H, W, C] into single picture with provided number of columns.
// Values are expected in [-1, 1] and mapped to [0, 255]; C must be 1 or 3.
func ImageGrid(images *tensor.Dense, columns int) (*image.NRGBA, error) {
	if images == nil || images.Dims() != 4 {
		return nil, fmt.Errorf("Images must be 4D tensor [N, H, W, C]")
	}
	shp := images.Shape()
	n, h, w, c := shp[0], shp[1], shp[2], shp[3]
	if c != 1 && c != 3 {
		return nil, fmt.Errorf("Images must have 1 or 3 channels, but got %d", c)
	}
	if columns <= 0 {
		return nil, fmt.Errorf("Number of columns must be positive, but got %d", columns)
	}
	rows := (n + columns - 1) / columns
	data := images.Float64s()
	grid := imaging.New(columns*w, rows*h, color.Black)
	for i := 0; i < n; i++ {
		tile := image.NewNRGBA(image.Rect(0, 0, w, h))
		offset := i * h * w * c
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				px := offset + (y*w+x)*c
				r := toUint8(data[px])
				g, b := r, r
				if c == 3 {
					g, b = toUint8(data[px+1]), toUint8(data[px+2])
				}
				tile.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: b, A: 255})
			}
		}
		grid = imaging.Paste(grid, tile, image.Pt((i%columns)*w, (i/columns)*h))
	}
	return grid, nil
}

// SaveImageGrid Tiles images and writes them to file, format is chosen by extension
func SaveImageGrid(images *tensor.Dense, columns int, fname string) error {
	grid, err := ImageGrid(images, columns)
	if err != nil {
		return errors.Wrap(err, "Can't tile images")
	}
	if err := imaging.Save(grid, fname); err != nil {
		return errors.Wrapf(err, "Can't save image grid to '%s'", fname)
	}
	return nil
}

// toUint8 Maps [-1, 1] onto [0, 255]
func toUint8(v float64) uint8 {
	scaled := (v + 1) / 2 * 255
	return uint8(math.Round(math.Max(0, math.Min(255, scaled))))
}
