package dcgan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"k8s.io/klog/v2"
)

// LabelMaps Label batch broadcast over spatial dimensions: one input node [N, Y, H, W] per spatial size
type LabelMaps struct {
	g        *gorgonia.ExprGraph
	batch    int
	labelDim int
	nodes    map[[2]int]*gorgonia.Node
}

// NewLabelMaps Creates empty set of label maps for provided graph
func NewLabelMaps(g *gorgonia.ExprGraph, batch, labelDim int) *LabelMaps {
	return &LabelMaps{
		g:        g,
		batch:    batch,
		labelDim: labelDim,
		nodes:    make(map[[2]int]*gorgonia.Node),
	}
}

// Map Returns input node of label map with provided spatial size
func (lm *LabelMaps) Map(height, width int) *gorgonia.Node {
	key := [2]int{height, width}
	if n, ok := lm.nodes[key]; ok {
		return n
	}
	n := gorgonia.NewTensor(lm.g, gorgonia.Float64, 4, gorgonia.WithShape(lm.batch, lm.labelDim, height, width), gorgonia.WithName(fmt.Sprintf("y_map_%dx%d", height, width)))
	lm.nodes[key] = n
	return n
}

// Feed Broadcasts labels [N, Y] into every map
func (lm *LabelMaps) Feed(labels *tensor.Dense) error {
	for key, n := range lm.nodes {
		broadcasted, err := BroadcastLabels(labels, key[0], key[1])
		if err != nil {
			return err
		}
		if err := gorgonia.Let(n, broadcasted); err != nil {
			return errors.Wrapf(err, "Can't feed label map %dx%d", key[0], key[1])
		}
	}
	return nil
}

// Network Single expression graph of the model with its own inputs and tape machine.
// Parameters are not owned: they are referenced through Scope.
//
// Name - human readable name used in logs and errors
// batch - number of samples the graph is built for
// z, y - latent and label inputs
// images - real images input (only for graphs that see data)
//
type Network struct {
	Name  string
	batch int

	g     *gorgonia.ExprGraph
	scope *Scope

	z      *gorgonia.Node
	y      *gorgonia.Node
	images *gorgonia.Node
	maps   *LabelMaps

	reads map[string]*gorgonia.Value

	vm         gorgonia.VM
	learnables gorgonia.Nodes
}

// NewNetwork Creates graph with inputs for provided batch size
//
// name - name of the graph
// store - shared parameters registry
// cfg - model configuration
// batch - batch size the graph is built for
// withImages - whether graph needs real images input
//
func NewNetwork(name string, store *ParamStore, cfg Config, batch int, withImages bool) *Network {
	g := gorgonia.NewGraph()
	net := &Network{
		Name:  name,
		batch: batch,
		g:     g,
		scope: NewScope(store, g),
		z:     gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(batch, cfg.ZDim), gorgonia.WithName("z")),
		reads: make(map[string]*gorgonia.Value),
	}
	if cfg.Conditional() {
		net.y = gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(batch, cfg.LabelDim), gorgonia.WithName("y"))
		net.maps = NewLabelMaps(g, batch, cfg.LabelDim)
	}
	if withImages {
		net.images = gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(batch, cfg.ImageSize, cfg.ImageSize, cfg.Channels), gorgonia.WithName("images"))
	}
	return net
}

// Scope Returns scope of the graph
func (net *Network) Scope() *Scope {
	return net.scope
}

// Learnables Returns nodes which solver of this graph updates
func (net *Network) Learnables() gorgonia.Nodes {
	return net.learnables
}

// Read Registers node which value should be available after run
func (net *Network) Read(key string, n *gorgonia.Node) {
	var v gorgonia.Value
	net.reads[key] = &v
	gorgonia.Read(n, net.reads[key])
}

// Value Returns value of node registered by Read
func (net *Network) Value(key string) (gorgonia.Value, error) {
	v, ok := net.reads[key]
	if !ok {
		return nil, fmt.Errorf("Node '%s' is not read by network '%s'", key, net.Name)
	}
	if *v == nil {
		return nil, fmt.Errorf("Node '%s' of network '%s' has no value, graph has not been run yet", key, net.Name)
	}
	return *v, nil
}

// Float64s Returns copy of data of node registered by Read
func (net *Network) Float64s(key string) ([]float64, error) {
	v, err := net.Value(key)
	if err != nil {
		return nil, err
	}
	data, err := float64sOf(v)
	if err != nil {
		return nil, errors.Wrapf(err, "Node '%s' of network '%s'", key, net.Name)
	}
	return append([]float64(nil), data...), nil
}

// Compile Defines gradients of cost with respect to learnables of provided group and creates tape machine.
// When cost is nil the machine runs forward pass only.
func (net *Network) Compile(cost *gorgonia.Node, group ParamGroup) error {
	if cost == nil {
		net.vm = gorgonia.NewTapeMachine(net.g)
		return nil
	}
	net.learnables = net.scope.Learnables(group)
	if len(net.learnables) == 0 {
		return fmt.Errorf("Network '%s' has no %s learnables", net.Name, group)
	}
	if _, err := gorgonia.Grad(cost, net.learnables...); err != nil {
		return errors.Wrapf(err, "Can't define gradients of network '%s'", net.Name)
	}
	net.vm = gorgonia.NewTapeMachine(net.g, gorgonia.BindDualValues(net.learnables...))
	klog.V(2).Infof("Network '%s': %d nodes, %d %s learnables", net.Name, len(net.g.AllNodes()), len(net.learnables), group)
	return nil
}

// Feed Binds batch to graph inputs
//
// z - latent batch [N, ZDim]
// labels - one-hot labels [N, LabelDim], ignored when conditioning is off
// images - real images [N, H, W, C], ignored when graph has no images input
//
func (net *Network) Feed(z, labels, images *tensor.Dense) error {
	if err := letChecked(net.z, z); err != nil {
		return errors.Wrapf(err, "Network '%s': latent batch", net.Name)
	}
	if net.y != nil {
		if err := letChecked(net.y, labels); err != nil {
			return errors.Wrapf(err, "Network '%s': label batch", net.Name)
		}
		if err := net.maps.Feed(labels); err != nil {
			return errors.Wrapf(err, "Network '%s'", net.Name)
		}
	}
	if net.images != nil {
		if err := letChecked(net.images, images); err != nil {
			return errors.Wrapf(err, "Network '%s': image batch", net.Name)
		}
	}
	return nil
}

func letChecked(n *gorgonia.Node, value *tensor.Dense) error {
	if value == nil {
		return fmt.Errorf("no value for node '%s'", n.Name())
	}
	if !value.Shape().Eq(n.Shape()) {
		return errors.Wrapf(ErrShapeMismatch, "node '%s' expects %v, got %v", n.Name(), n.Shape(), value.Shape())
	}
	return gorgonia.Let(n, value)
}

// Forward Runs graph once. Nothing is updated: neither parameters nor batch norm statistics.
func (net *Network) Forward() error {
	if net.vm == nil {
		return fmt.Errorf("Network '%s' is not compiled", net.Name)
	}
	defer net.vm.Reset()
	if err := net.scope.Bind(); err != nil {
		return errors.Wrapf(err, "Network '%s'", net.Name)
	}
	if err := net.vm.RunAll(); err != nil {
		return errors.Wrapf(err, "Can't run network '%s'", net.Name)
	}
	return nil
}

// Step Runs graph, applies solver to learnables of provided group and moves batch norm statistics
func (net *Network) Step(solver gorgonia.Solver, group ParamGroup) error {
	if net.vm == nil {
		return fmt.Errorf("Network '%s' is not compiled", net.Name)
	}
	defer net.vm.Reset()
	if err := net.scope.Bind(); err != nil {
		return errors.Wrapf(err, "Network '%s'", net.Name)
	}
	if err := net.vm.RunAll(); err != nil {
		return errors.Wrapf(err, "Can't run network '%s'", net.Name)
	}
	if err := solver.Step(gorgonia.NodesToValueGrads(net.learnables)); err != nil {
		return errors.Wrapf(err, "Can't do solver step for network '%s'", net.Name)
	}
	if err := net.scope.Commit(group); err != nil {
		return errors.Wrapf(err, "Network '%s'", net.Name)
	}
	if err := net.scope.CommitBatchNorms(); err != nil {
		return errors.Wrapf(err, "Network '%s'", net.Name)
	}
	return nil
}

// Close Releases tape machine
func (net *Network) Close() error {
	if net.vm == nil {
		return nil
	}
	return net.vm.Close()
}

// BroadcastLabels Repeats labels [N, Y] over spatial dimensions: result is [N, Y, H, W]
func BroadcastLabels(labels *tensor.Dense, height, width int) (*tensor.Dense, error) {
	if labels == nil || labels.Dims() != 2 {
		return nil, fmt.Errorf("Labels must be 2D tensor")
	}
	shp := labels.Shape()
	n, y := shp[0], shp[1]
	src := labels.Float64s()
	plane := height * width
	data := make([]float64, n*y*plane)
	for b := 0; b < n; b++ {
		for k := 0; k < y; k++ {
			v := src[b*y+k]
			if v == 0 {
				continue
			}
			offset := (b*y + k) * plane
			for i := 0; i < plane; i++ {
				data[offset+i] = v
			}
		}
	}
	return tensor.New(tensor.WithShape(n, y, height, width), tensor.WithBacking(data)), nil
}
