// Package checkpoints saves and restores named float64 tensors.
//
// Every checkpoint is a pair of files in <base>/<run-id>/: "<name>.json" with metadata (step, variable names,
// shapes and their position in data file) and "<name>.bin" with raw little-endian float64 data.
// The index file "checkpoint" points to the latest one. Checkpoint names end with the step number,
// e.g. "DCGAN.model-42", and saving never overwrites an existing checkpoint.
package checkpoints

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
	"k8s.io/klog/v2"
)

var (
	// DirPermMode is the default directory creation permission (before umask) used.
	DirPermMode = os.FileMode(0770)

	// ErrCheckpointExists Checkpoint for this step has been saved already
	ErrCheckpointExists = errors.New("checkpoint exists")
)

const (
	// DefaultPrefix Name prefix of every checkpoint
	DefaultPrefix = "DCGAN.model"

	indexFileName  = "checkpoint"
	jsonNameSuffix = ".json"
	varDataSuffix  = ".bin"
	float64Size    = 8
)

var trailingStepRegexp = regexp.MustCompile(`(\d+)\D*$`)

// StepFromName Parses trailing integer of checkpoint name: "DCGAN.model-1200" -> 1200
func StepFromName(name string) (int, error) {
	matches := trailingStepRegexp.FindStringSubmatch(name)
	if len(matches) != 2 {
		return 0, errors.Errorf("checkpoint name %q has no trailing step number", name)
	}
	step, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, errors.Wrapf(err, "checkpoint name %q", name)
	}
	return step, nil
}

// Manager Saves and loads checkpoints of single run
type Manager struct {
	dir    string
	prefix string
	keep   int
}

// New Creates manager for <baseDir>/<runID>. Directory is created on first save.
func New(baseDir, runID string) *Manager {
	return &Manager{
		dir:    filepath.Join(baseDir, runID),
		prefix: DefaultPrefix,
		keep:   -1,
	}
}

// Keep Sets how many most recent checkpoints survive each save. Negative keeps all of them (default).
func (m *Manager) Keep(n int) *Manager {
	m.keep = n
	return m
}

// Dir Returns directory of the run
func (m *Manager) Dir() string {
	return m.dir
}

// String implements Stringer.
func (m *Manager) String() string {
	return fmt.Sprintf("checkpoints.Manager(%q)", m.dir)
}

// metadata is how checkpoint description is written to storage.
type metadata struct {
	Step      int
	CreatedAt time.Time
	Variables []serializedVar
}

// serializedVar Variable name, shape and its position (in bytes) in data file
type serializedVar struct {
	Name       string
	Dimensions []int
	Pos        int64
	Length     int64
}

// index Content of index file
type index struct {
	Latest string
	All    []string
}

// Name Returns checkpoint name for provided step
func (m *Manager) Name(step int) string {
	return fmt.Sprintf("%s-%d", m.prefix, step)
}

// ListCheckpoints returns names of saved checkpoints ordered by step (older first).
func (m *Manager) ListCheckpoints() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "%s: failed to list checkpoints", m)
	}
	type named struct {
		name string
		step int
	}
	found := []named{}
	for _, entry := range entries {
		fileName := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(fileName, m.prefix+"-") || !strings.HasSuffix(fileName, jsonNameSuffix) {
			continue
		}
		name := strings.TrimSuffix(fileName, jsonNameSuffix)
		step, err := StepFromName(name)
		if err != nil {
			klog.Warningf("%s: skipping %q: %v", m, fileName, err)
			continue
		}
		found = append(found, named{name: name, step: step})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].step < found[j].step })
	names := make([]string, len(found))
	for i := range found {
		names[i] = found[i].name
	}
	return names, nil
}

// Latest Returns name of the most recent checkpoint or empty string when there is none.
// Index file is preferred; listing of directory is used when index is absent.
func (m *Manager) Latest() (string, error) {
	idx, err := m.readIndex()
	if err != nil {
		return "", err
	}
	if idx != nil && idx.Latest != "" {
		return idx.Latest, nil
	}
	list, err := m.ListCheckpoints()
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "", nil
	}
	return list[len(list)-1], nil
}

func (m *Manager) readIndex() (*index, error) {
	raw, err := os.ReadFile(filepath.Join(m.dir, indexFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "%s: failed to read index", m)
	}
	idx := &index{}
	if err := json.Unmarshal(raw, idx); err != nil {
		return nil, errors.Wrapf(err, "%s: failed to decode index", m)
	}
	return idx, nil
}

func (m *Manager) writeIndex(names []string) error {
	idx := index{All: names}
	if len(names) > 0 {
		idx.Latest = names[len(names)-1]
	}
	raw, err := json.MarshalIndent(&idx, "", "\t")
	if err != nil {
		return errors.Wrapf(err, "%s: failed to encode index", m)
	}
	tmp := filepath.Join(m.dir, indexFileName+".tmp")
	if err := os.WriteFile(tmp, raw, 0660); err != nil {
		return errors.Wrapf(err, "%s: failed to write index", m)
	}
	return errors.Wrapf(os.Rename(tmp, filepath.Join(m.dir, indexFileName)), "%s: failed to replace index", m)
}

// Save Writes every tensor as new checkpoint for provided step and returns its name
//
// values - tensors keyed by name, only float64 tensors are supported
// step - training counter, becomes suffix of checkpoint name
//
func (m *Manager) Save(values map[string]*tensor.Dense, step int) (string, error) {
	if err := os.MkdirAll(m.dir, DirPermMode); err != nil {
		return "", errors.Wrapf(err, "%s: failed to create directory", m)
	}
	name := m.Name(step)
	jsonFileName := filepath.Join(m.dir, name+jsonNameSuffix)
	varFileName := filepath.Join(m.dir, name+varDataSuffix)
	for _, fileName := range []string{jsonFileName, varFileName} {
		if _, err := os.Stat(fileName); err == nil {
			return "", errors.Wrapf(ErrCheckpointExists, "%s: %s", m, fileName)
		}
	}

	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)

	varFile, err := os.OpenFile(varFileName, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0660)
	if err != nil {
		return "", errors.Wrapf(err, "%s: failed to create checkpoint data file %s", m, varFileName)
	}
	w := bufio.NewWriter(varFile)
	meta := metadata{Step: step, CreatedAt: time.Now(), Variables: make([]serializedVar, 0, len(names))}
	var pos int64
	for _, k := range names {
		v := values[k]
		if v.Dtype() != tensor.Float64 {
			varFile.Close()
			return "", errors.Errorf("%s: variable %s has dtype %v, only float64 is supported", m, k, v.Dtype())
		}
		data := v.Float64s()
		if err := binary.Write(w, binary.LittleEndian, data); err != nil {
			varFile.Close()
			return "", errors.Wrapf(err, "%s: failed to write variable %s", m, k)
		}
		length := int64(len(data) * float64Size)
		meta.Variables = append(meta.Variables, serializedVar{
			Name:       k,
			Dimensions: append([]int(nil), v.Shape()...),
			Pos:        pos,
			Length:     length,
		})
		pos += length
	}
	if err := w.Flush(); err != nil {
		varFile.Close()
		return "", errors.Wrapf(err, "%s: failed to flush checkpoint data file %s", m, varFileName)
	}
	if err := varFile.Close(); err != nil {
		return "", errors.Wrapf(err, "%s: failed to close checkpoint data file %s", m, varFileName)
	}

	raw, err := json.MarshalIndent(&meta, "", "\t")
	if err != nil {
		return "", errors.Wrapf(err, "%s: failed to encode checkpoint metadata", m)
	}
	if err := os.WriteFile(jsonFileName, raw, 0660); err != nil {
		return "", errors.Wrapf(err, "%s: failed to write checkpoint metadata file %s", m, jsonFileName)
	}

	if err := m.keepNCheckpoints(); err != nil {
		return "", err
	}
	list, err := m.ListCheckpoints()
	if err != nil {
		return "", err
	}
	if err := m.writeIndex(list); err != nil {
		return "", err
	}
	klog.Infof("%s: saved %s (%d variables, %s)", m, name, len(names), humanize.Bytes(uint64(pos)))
	return name, nil
}

// keepNCheckpoints removes the oldest checkpoints exceeding configured number.
func (m *Manager) keepNCheckpoints() error {
	if m.keep < 0 {
		return nil
	}
	list, err := m.ListCheckpoints()
	if err != nil {
		return err
	}
	if len(list) <= m.keep {
		return nil
	}
	for _, name := range list[:len(list)-m.keep] {
		for _, suffix := range []string{varDataSuffix, jsonNameSuffix} {
			fileName := filepath.Join(m.dir, name+suffix)
			if err := os.Remove(fileName); err != nil && !os.IsNotExist(err) {
				return errors.Wrapf(err, "%s: failed to remove excess checkpoint file %q", m, fileName)
			}
		}
	}
	return nil
}

// Load Restores the most recent checkpoint into provided tensors (in place).
// Missing checkpoint is a normal outcome: found is false and err is nil.
// Values are restored only when every tensor of into has been read successfully.
//
// into - tensors keyed by name, every one of them must be present in checkpoint with the same shape
//
func (m *Manager) Load(into map[string]*tensor.Dense) (found bool, step int, err error) {
	name, err := m.Latest()
	if err != nil {
		return false, 0, err
	}
	if name == "" {
		return false, 0, nil
	}
	if step, err = StepFromName(name); err != nil {
		return false, 0, err
	}

	raw, err := os.ReadFile(filepath.Join(m.dir, name+jsonNameSuffix))
	if err != nil {
		return false, 0, errors.Wrapf(err, "%s: failed to read metadata of %s", m, name)
	}
	meta := metadata{}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return false, 0, errors.Wrapf(err, "%s: failed to decode metadata of %s", m, name)
	}
	varFile, err := os.Open(filepath.Join(m.dir, name+varDataSuffix))
	if err != nil {
		return false, 0, errors.Wrapf(err, "%s: failed to open data of %s", m, name)
	}
	defer varFile.Close()

	loaded := make(map[string][]float64, len(meta.Variables))
	for _, sv := range meta.Variables {
		dst, ok := into[sv.Name]
		if !ok {
			klog.V(1).Infof("%s: %s has variable %q which is not used", m, name, sv.Name)
			continue
		}
		if !dst.Shape().Eq(tensor.Shape(sv.Dimensions)) {
			return false, 0, errors.Errorf("%s: variable %q has shape %v in %s, but %v is expected", m, sv.Name, sv.Dimensions, name, dst.Shape())
		}
		if sv.Length != int64(dst.Shape().TotalSize()*float64Size) {
			return false, 0, errors.Errorf("%s: variable %q has %d bytes in %s, but %d are expected", m, sv.Name, sv.Length, name, dst.Shape().TotalSize()*float64Size)
		}
		buf := make([]float64, dst.Shape().TotalSize())
		if err := binary.Read(io.NewSectionReader(varFile, sv.Pos, sv.Length), binary.LittleEndian, buf); err != nil {
			return false, 0, errors.Wrapf(err, "%s: failed to read variable %q of %s", m, sv.Name, name)
		}
		loaded[sv.Name] = buf
	}
	for k := range into {
		if _, ok := loaded[k]; !ok {
			return false, 0, errors.Errorf("%s: variable %q is missing in %s", m, k, name)
		}
	}
	for k, buf := range loaded {
		copy(into[k].Float64s(), buf)
	}
	if meta.Step != 0 && meta.Step != step {
		klog.Warningf("%s: %s stores step %d, name says %d", m, name, meta.Step, step)
	}
	return true, step, nil
}
