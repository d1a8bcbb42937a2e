package dcgan_go

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var (
	// ErrReuseNotDeclared Variable already exists but caller asked to create it
	ErrReuseNotDeclared = errors.New("variable exists, reuse must be declared")
	// ErrVariableNotFound Caller asked to reuse variable which has never been created
	ErrVariableNotFound = errors.New("variable not found")
	// ErrShapeMismatch Shapes computed at construction time do not agree
	ErrShapeMismatch = errors.New("shape mismatch")
)

// ParamGroup Disjoint group of trainable parameters. Every group has its own optimizer.
type ParamGroup uint16

const (
	GroupGenerator = ParamGroup(iota)
	GroupDiscriminator
)

func (pg ParamGroup) String() string {
	switch pg {
	case GroupGenerator:
		return "generator"
	case GroupDiscriminator:
		return "discriminator"
	default:
		return fmt.Sprintf("ParamGroup(%d)", uint16(pg))
	}
}

// GroupOf Resolves group by naming convention: "g_" prefix is generator, "d_" prefix is discriminator
func GroupOf(name string) (ParamGroup, error) {
	switch {
	case strings.HasPrefix(name, "g_"):
		return GroupGenerator, nil
	case strings.HasPrefix(name, "d_"):
		return GroupDiscriminator, nil
	default:
		return 0, fmt.Errorf("Variable name '%s' has no group prefix (g_ or d_)", name)
	}
}

// Variable Named trainable tensor
type Variable struct {
	Name  string
	Group ParamGroup
	Value *tensor.Dense
}

// ParamStore Registry of every trainable variable and batch norm state of the model.
// Graphs never own parameters: their nodes alias tensors stored here.
type ParamStore struct {
	vars      map[string]*Variable
	varsOrder []string

	norms      map[string]*BatchNormState
	normsOrder []string
}

// NewParamStore Creates empty registry
func NewParamStore() *ParamStore {
	return &ParamStore{
		vars:  make(map[string]*Variable),
		norms: make(map[string]*BatchNormState),
	}
}

func (ps *ParamStore) createVariable(name string, shape tensor.Shape, init gorgonia.InitWFn) (*Variable, error) {
	if _, ok := ps.vars[name]; ok {
		return nil, errors.Wrapf(ErrReuseNotDeclared, "variable '%s'", name)
	}
	group, err := GroupOf(name)
	if err != nil {
		return nil, err
	}
	value, err := initDense(init, shape)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't initialize variable '%s'", name)
	}
	v := &Variable{Name: name, Group: group, Value: value}
	ps.vars[name] = v
	ps.varsOrder = append(ps.varsOrder, name)
	return v, nil
}

// Variable Returns variable by its name
func (ps *ParamStore) Variable(name string) (*Variable, bool) {
	v, ok := ps.vars[name]
	return v, ok
}

// BatchNorm Returns batch norm state by its layer name
func (ps *ParamStore) BatchNorm(name string) (*BatchNormState, bool) {
	s, ok := ps.norms[name]
	return s, ok
}

// Names Returns names of variables of provided group in creation order
func (ps *ParamStore) Names(group ParamGroup) []string {
	names := []string{}
	for _, name := range ps.varsOrder {
		if ps.vars[name].Group == group {
			names = append(names, name)
		}
	}
	return names
}

// Variables Returns every variable in creation order
func (ps *ParamStore) Variables() []*Variable {
	result := make([]*Variable, 0, len(ps.varsOrder))
	for _, name := range ps.varsOrder {
		result = append(result, ps.vars[name])
	}
	return result
}

// BatchNorms Returns every batch norm state in creation order
func (ps *ParamStore) BatchNorms() []*BatchNormState {
	result := make([]*BatchNormState, 0, len(ps.normsOrder))
	for _, name := range ps.normsOrder {
		result = append(result, ps.norms[name])
	}
	return result
}

// NumParams Total number of scalars held by trainable variables
func (ps *ParamStore) NumParams() int {
	total := 0
	for _, v := range ps.vars {
		total += v.Value.Shape().TotalSize()
	}
	return total
}

// Snapshot Returns every persistent tensor (trainable variables and batch norm moving statistics) keyed by name.
// Tensors are not copied: restoring into them updates the model in place.
func (ps *ParamStore) Snapshot() map[string]*tensor.Dense {
	snapshot := make(map[string]*tensor.Dense, len(ps.vars)+2*len(ps.norms))
	for name, v := range ps.vars {
		snapshot[name] = v.Value
	}
	for name, s := range ps.norms {
		snapshot[name+"/moving_mean"] = s.MovingMean
		snapshot[name+"/moving_variance"] = s.MovingVariance
	}
	return snapshot
}

// SnapshotNames Sorted keys of Snapshot
func (ps *ParamStore) SnapshotNames() []string {
	snapshot := ps.Snapshot()
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Scope Binds ParamStore to a single expression graph.
//
// Variable(..., reuse=false) creates a new entry and fails with ErrReuseNotDeclared when it exists.
// Variable(..., reuse=true) references an existing entry and fails with ErrVariableNotFound when there is none.
// Inside one graph every variable has exactly one node.
type Scope struct {
	store *ParamStore
	g     *gorgonia.ExprGraph

	nodes      map[string]*gorgonia.Node
	nodesOrder []string

	// Batch norm layers applied in training mode (stats are committed after run)
	trainNorms []*batchNormRun
	// Batch norm layers applied in inference mode (stats are fed before run)
	inferNorms []*batchNormRun
}

// NewScope Creates scope for provided graph
func NewScope(store *ParamStore, g *gorgonia.ExprGraph) *Scope {
	return &Scope{
		store: store,
		g:     g,
		nodes: make(map[string]*gorgonia.Node),
	}
}

// Graph Returns underlying graph
func (s *Scope) Graph() *gorgonia.ExprGraph {
	return s.g
}

// Store Returns underlying registry
func (s *Scope) Store() *ParamStore {
	return s.store
}

// Variable Returns node bound to named variable
//
// name - full variable name, must start with group prefix
// shape - expected shape
// init - initializer used when variable is created
// reuse - reference existing variable instead of creating it
//
func (s *Scope) Variable(name string, shape tensor.Shape, init gorgonia.InitWFn, reuse bool) (*gorgonia.Node, error) {
	var v *Variable
	if reuse {
		existing, ok := s.store.vars[name]
		if !ok {
			return nil, errors.Wrapf(ErrVariableNotFound, "variable '%s' (reuse declared)", name)
		}
		if !existing.Value.Shape().Eq(shape) {
			return nil, errors.Wrapf(ErrShapeMismatch, "variable '%s' has shape %v, requested %v", name, existing.Value.Shape(), shape)
		}
		v = existing
	} else {
		created, err := s.store.createVariable(name, shape, init)
		if err != nil {
			return nil, err
		}
		v = created
	}
	if node, ok := s.nodes[name]; ok {
		return node, nil
	}
	node := gorgonia.NewTensor(s.g, gorgonia.Float64, v.Value.Dims(), gorgonia.WithShape(v.Value.Shape()...), gorgonia.WithName(name), gorgonia.WithValue(v.Value))
	s.nodes[name] = node
	s.nodesOrder = append(s.nodesOrder, name)
	return node, nil
}

// Learnables Returns nodes of provided group which were used in this graph
func (s *Scope) Learnables(group ParamGroup) gorgonia.Nodes {
	nodes := gorgonia.Nodes{}
	for _, name := range s.nodesOrder {
		if s.store.vars[name].Group == group {
			nodes = append(nodes, s.nodes[name])
		}
	}
	return nodes
}

// Bind Binds registry tensors (and inference batch norm statistics) to graph nodes before run
func (s *Scope) Bind() error {
	for _, name := range s.nodesOrder {
		if err := gorgonia.Let(s.nodes[name], s.store.vars[name].Value); err != nil {
			return errors.Wrapf(err, "Can't bind variable '%s'", name)
		}
	}
	for _, run := range s.inferNorms {
		if err := run.feed(); err != nil {
			return err
		}
	}
	return nil
}

// Commit Writes values produced by solver back into registry
func (s *Scope) Commit(group ParamGroup) error {
	for _, name := range s.nodesOrder {
		v := s.store.vars[name]
		if v.Group != group {
			continue
		}
		updated, ok := s.nodes[name].Value().(*tensor.Dense)
		if !ok {
			return fmt.Errorf("Node of variable '%s' holds %T instead of *tensor.Dense", name, s.nodes[name].Value())
		}
		if updated == v.Value {
			continue
		}
		copy(v.Value.Float64s(), updated.Float64s())
	}
	return nil
}

// CommitBatchNorms Moves running statistics of every training mode batch norm layer
func (s *Scope) CommitBatchNorms() error {
	for _, run := range s.trainNorms {
		if err := run.commit(); err != nil {
			return err
		}
	}
	return nil
}

func initDense(init gorgonia.InitWFn, shape tensor.Shape) (*tensor.Dense, error) {
	if init == nil {
		init = gorgonia.Zeroes()
	}
	raw := init(tensor.Float64, shape...)
	switch backing := raw.(type) {
	case []float64:
		return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing)), nil
	case *tensor.Dense:
		return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing.Float64s())), nil
	case tensor.Tensor:
		data, ok := backing.Data().([]float64)
		if !ok {
			return nil, fmt.Errorf("Initializer returned %T data", backing.Data())
		}
		return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)), nil
	default:
		return nil, fmt.Errorf("Initializer returned unsupported %T", raw)
	}
}
