package dcgan_go

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestGroupOf(t *testing.T) {
	group, err := GroupOf("g_h0_lin/w")
	require.NoError(t, err)
	assert.Equal(t, GroupGenerator, group)
	group, err = GroupOf("d_bn1/gamma")
	require.NoError(t, err)
	assert.Equal(t, GroupDiscriminator, group)
	_, err = GroupOf("h0/w")
	assert.Error(t, err)
}

func TestScopeReuseContract(t *testing.T) {
	store := NewParamStore()
	first := NewScope(store, gorgonia.NewGraph())
	w, err := first.Variable("g_w", tensor.Shape{2, 3}, gorgonia.GlorotU(1), false)
	require.NoError(t, err)
	same, err := first.Variable("g_w", tensor.Shape{2, 3}, nil, true)
	require.NoError(t, err)
	assert.Same(t, w, same, "one node per variable inside graph")

	_, err = first.Variable("g_w", tensor.Shape{2, 3}, nil, false)
	assert.True(t, errors.Is(err, ErrReuseNotDeclared))

	second := NewScope(store, gorgonia.NewGraph())
	_, err = second.Variable("g_w", tensor.Shape{2, 3}, nil, false)
	assert.True(t, errors.Is(err, ErrReuseNotDeclared), "variables are shared between graphs")

	other, err := second.Variable("g_w", tensor.Shape{2, 3}, nil, true)
	require.NoError(t, err)
	v, ok := store.Variable("g_w")
	require.True(t, ok)
	assert.Same(t, v.Value, other.Value().(*tensor.Dense), "graphs alias tensors of registry")

	_, err = second.Variable("g_w", tensor.Shape{3, 2}, nil, true)
	assert.True(t, errors.Is(err, ErrShapeMismatch))

	_, err = second.Variable("d_missing", tensor.Shape{1}, nil, true)
	assert.True(t, errors.Is(err, ErrVariableNotFound))

	_, err = second.Variable("w", tensor.Shape{1}, nil, false)
	assert.Error(t, err, "name without group prefix")
}

func TestParamStoreSnapshot(t *testing.T) {
	store := NewParamStore()
	s := NewScope(store, gorgonia.NewGraph())
	_, err := s.Variable("g_h0_lin/w", tensor.Shape{4, 2}, gorgonia.Zeroes(), false)
	require.NoError(t, err)
	x := gorgonia.NewMatrix(s.Graph(), gorgonia.Float64, gorgonia.WithShape(3, 4), gorgonia.WithName("x"))
	_, err = BatchNorm(s, "d_bn0", x, BatchNormTraining, 0.9, 1e-5, false)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"d_bn0/beta",
		"d_bn0/gamma",
		"d_bn0/moving_mean",
		"d_bn0/moving_variance",
		"g_h0_lin/w",
	}, store.SnapshotNames())
	assert.Equal(t, 8+4+4, store.NumParams())
	assert.Equal(t, []string{"g_h0_lin/w"}, store.Names(GroupGenerator))
	assert.Equal(t, []string{"d_bn0/gamma", "d_bn0/beta"}, store.Names(GroupDiscriminator))

	bn, ok := store.BatchNorm("d_bn0")
	require.True(t, ok)
	assert.Same(t, bn.MovingMean, store.Snapshot()["d_bn0/moving_mean"])
}
