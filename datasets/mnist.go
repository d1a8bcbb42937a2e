package datasets

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	mnistImageMagic = 0x00000803
	mnistLabelMagic = 0x00000801
	mnistSide       = 28
	mnistClasses    = 10
	// MNISTShuffleSeed Seed of permutation applied to concatenated train and test sets
	MNISTShuffleSeed = 547
)

var mnistFiles = [][2]string{
	{"train-images-idx3-ubyte", "train-labels-idx1-ubyte"},
	{"t10k-images-idx3-ubyte", "t10k-labels-idx1-ubyte"},
}

type idxImageHeader struct {
	Magic     int32
	NumImages int32
	Height    int32
	Width     int32
}

type idxLabelHeader struct {
	Magic     int32
	NumLabels int32
}

// LoadMNIST Reads train and test idx files from dir (raw or gzipped), concatenates and shuffles them
//
// dir - directory with idx files
// labelDim - must be 0 (labels are dropped) or 10
//
func LoadMNIST(dir string, labelDim int) (*ArrayDataset, error) {
	if labelDim != 0 && labelDim != mnistClasses {
		return nil, fmt.Errorf("MNIST has %d classes, but %d requested", mnistClasses, labelDim)
	}
	var pixels []uint8
	var labels []int
	for _, pair := range mnistFiles {
		imgs, err := readIdxImages(filepath.Join(dir, pair[0]))
		if err != nil {
			return nil, err
		}
		lbls, err := readIdxLabels(filepath.Join(dir, pair[1]))
		if err != nil {
			return nil, err
		}
		if len(imgs) != len(lbls)*mnistSide*mnistSide {
			return nil, fmt.Errorf("'%s' and '%s' disagree on number of examples", pair[0], pair[1])
		}
		pixels = append(pixels, imgs...)
		labels = append(labels, lbls...)
	}
	pixels, labels = shuffleExamples(pixels, labels, mnistSide*mnistSide, MNISTShuffleSeed)
	return NewArrayDataset(NameMNIST, pixels, labels, mnistSide, mnistSide, 1, labelDim, SamplingSequential)
}

// shuffleExamples Applies one permutation to images and labels
func shuffleExamples(pixels []uint8, labels []int, size int, seed int64) ([]uint8, []int) {
	perm := rand.New(rand.NewSource(seed)).Perm(len(labels))
	shuffledPixels := make([]uint8, len(pixels))
	shuffledLabels := make([]int, len(labels))
	for to, from := range perm {
		copy(shuffledPixels[to*size:(to+1)*size], pixels[from*size:(from+1)*size])
		shuffledLabels[to] = labels[from]
	}
	return shuffledPixels, shuffledLabels
}

// openIdx Opens fname or, when absent, fname.gz
func openIdx(fname string) (io.ReadCloser, error) {
	if f, err := os.Open(fname); err == nil {
		return f, nil
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "Can't open '%s'", fname)
	}
	f, err := os.Open(fname + ".gz")
	if err != nil {
		return nil, errors.Wrapf(err, "Can't open '%s' nor its gzipped version", fname)
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "Can't decompress '%s.gz'", fname)
	}
	return &gzipFile{Reader: gz, file: f}, nil
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	err := g.Reader.Close()
	if ferr := g.file.Close(); err == nil {
		err = ferr
	}
	return err
}

func readIdxImages(fname string) ([]uint8, error) {
	rc, err := openIdx(fname)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	reader := bufio.NewReader(rc)
	var header idxImageHeader
	if err := binary.Read(reader, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrapf(err, "Can't read header of '%s'", fname)
	}
	if header.Magic != mnistImageMagic {
		return nil, fmt.Errorf("'%s': unexpected magic number 0x%08x for images file", fname, header.Magic)
	}
	if header.Height != mnistSide || header.Width != mnistSide || header.NumImages < 0 {
		return nil, fmt.Errorf("'%s': unexpected images shape %dx%dx%d", fname, header.NumImages, header.Height, header.Width)
	}
	pixels := make([]uint8, int(header.NumImages)*mnistSide*mnistSide)
	if _, err := io.ReadFull(reader, pixels); err != nil {
		return nil, errors.Wrapf(err, "Can't read %d images from '%s'", header.NumImages, fname)
	}
	return pixels, nil
}

func readIdxLabels(fname string) ([]int, error) {
	rc, err := openIdx(fname)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	reader := bufio.NewReader(rc)
	var header idxLabelHeader
	if err := binary.Read(reader, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrapf(err, "Can't read header of '%s'", fname)
	}
	if header.Magic != mnistLabelMagic {
		return nil, fmt.Errorf("'%s': unexpected magic number 0x%08x for labels file", fname, header.Magic)
	}
	if header.NumLabels < 0 {
		return nil, fmt.Errorf("'%s': negative number of labels %d", fname, header.NumLabels)
	}
	raw := make([]uint8, header.NumLabels)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return nil, errors.Wrapf(err, "Can't read %d labels from '%s'", header.NumLabels, fname)
	}
	labels := make([]int, len(raw))
	for i, v := range raw {
		labels[i] = int(v)
	}
	return labels, nil
}
