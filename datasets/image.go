package datasets

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// ResizeMode How image is brought to square size
type ResizeMode uint16

const (
	// ResizeStretch Scales both sides independently
	ResizeStretch = ResizeMode(iota)
	// ResizeCenterCrop Scales shorter side and crops center
	ResizeCenterCrop
)

// loadImagePixels Decodes file and returns its pixels [size, size, channels] in row-major order
func loadImagePixels(fname string, size, channels int, mode ResizeMode) ([]uint8, error) {
	img, err := imaging.Open(fname)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't open image '%s'", fname)
	}
	return imagePixels(img, size, channels, mode)
}

func imagePixels(img image.Image, size, channels int, mode ResizeMode) ([]uint8, error) {
	if channels != 1 && channels != 3 {
		return nil, fmt.Errorf("Images must have 1 or 3 channels, but got %d", channels)
	}
	var resized *image.NRGBA
	switch mode {
	case ResizeCenterCrop:
		resized = imaging.Fill(img, size, size, imaging.Center, imaging.Lanczos)
	default:
		resized = imaging.Resize(img, size, size, imaging.Lanczos)
	}
	if channels == 1 {
		resized = imaging.Grayscale(resized)
	}
	pixels := make([]uint8, 0, size*size*channels)
	for y := 0; y < size; y++ {
		row := resized.Pix[y*resized.Stride : y*resized.Stride+size*4]
		for x := 0; x < size; x++ {
			px := row[x*4 : x*4+4]
			if channels == 1 {
				pixels = append(pixels, px[0])
				continue
			}
			pixels = append(pixels, px[0], px[1], px[2])
		}
	}
	return pixels, nil
}
