package datasets

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// PokemonTypesFile Labels file of Pokemon dataset
const PokemonTypesFile = "types.csv"

// LoadPokemon Reads labels from types.csv and images named <id>.<ext> matching pattern.
// Ids without image stay black. Batches are drawn uniformly with replacement.
//
// name - dataset name
// dir - dataset directory
// pattern - image file glob pattern
// size - side of image after resizing
// channels - 1 or 3
// labelDim - number of types
//
func LoadPokemon(name, dir, pattern string, size, channels, labelDim int) (*ArrayDataset, error) {
	if labelDim <= 0 {
		return nil, fmt.Errorf("Pokemon dataset is labeled, but %d label classes requested", labelDim)
	}
	labels, err := readPokemonTypes(filepath.Join(dir, PokemonTypesFile))
	if err != nil {
		return nil, err
	}
	files, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, errors.Wrapf(err, "Bad pattern '%s'", pattern)
	}
	imgSize := size * size * channels
	pixels := make([]uint8, len(labels)*imgSize)
	loaded := 0
	for _, fname := range files {
		base := filepath.Base(fname)
		id, err := strconv.Atoi(strings.TrimSuffix(base, filepath.Ext(base)))
		if err != nil {
			klog.V(1).Infof("Pokemon: skipping '%s', name is not an id", fname)
			continue
		}
		pid := id - 1
		if pid < 0 || pid >= len(labels) {
			klog.V(1).Infof("Pokemon: skipping '%s', id %d has no type", fname, id)
			continue
		}
		data, err := loadImagePixels(fname, size, channels, ResizeStretch)
		if err != nil {
			return nil, err
		}
		copy(pixels[pid*imgSize:(pid+1)*imgSize], data)
		loaded++
	}
	if loaded == 0 {
		return nil, fmt.Errorf("No images match '%s'", filepath.Join(dir, pattern))
	}
	klog.Infof("Pokemon: %d images, %d types", loaded, len(labels))
	return NewArrayDataset(name, pixels, labels, size, size, channels, labelDim, SamplingRandom)
}

// readPokemonTypes Parses rows "id,...,...,type"; header row starts with "id". Missing ids get type 0.
func readPokemonTypes(fname string) ([]int, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't open '%s'", fname)
	}
	defer f.Close()
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	types := make(map[int]int)
	maxID := 0
	for line := 1; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "Can't read '%s'", fname)
		}
		if len(row) > 0 && row[0] == "id" {
			continue
		}
		if len(row) < 4 {
			return nil, fmt.Errorf("'%s' line %d: expected at least 4 columns, got %d", fname, line, len(row))
		}
		id, err := strconv.Atoi(strings.TrimSpace(row[0]))
		if err != nil || id < 1 {
			return nil, fmt.Errorf("'%s' line %d: bad id '%s'", fname, line, row[0])
		}
		typeID, err := strconv.Atoi(strings.TrimSpace(row[3]))
		if err != nil {
			return nil, fmt.Errorf("'%s' line %d: bad type '%s'", fname, line, row[3])
		}
		types[id-1] = typeID
		if id > maxID {
			maxID = id
		}
	}
	labels := make([]int, maxID)
	for pid, typeID := range types {
		labels[pid] = typeID
	}
	return labels, nil
}
