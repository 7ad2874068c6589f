package label

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNormalizesAndMerges(t *testing.T) {
	l, err := New("vlan", Range{1800, 1800}, Range{1780, 1789})
	require.NoError(t, err)
	assert.Equal(t, []Range{{1780, 1789}, {1800, 1800}}, l.Ranges)
}

func TestNewRejectsDescendingRange(t *testing.T) {
	_, err := New("vlan", Range{10, 5})
	assert.Error(t, err)
}

func TestNewRejectsEmpty(t *testing.T) {
	_, err := New("vlan")
	assert.Error(t, err)
}

func TestSingleValued(t *testing.T) {
	l := Single("vlan", 1781)
	assert.True(t, l.SingleValued())
	v, ok := l.Value()
	assert.True(t, ok)
	assert.Equal(t, 1781, v)

	multi, _ := New("vlan", Range{1780, 1789})
	assert.False(t, multi.SingleValued())
}

func TestIntersectCommutativeAndAssociative(t *testing.T) {
	a, _ := New("vlan", Range{1780, 1789})
	b, _ := New("vlan", Range{1781, 1782}, Range{1800, 1800})

	ab, err := Intersect(a, b)
	require.NoError(t, err)
	ba, err := Intersect(b, a)
	require.NoError(t, err)
	assert.Equal(t, ab, ba)
	assert.Equal(t, []Range{{1781, 1782}}, ab.Ranges)

	c, _ := New("vlan", Range{1782, 1800})
	abC, err := Intersect(ab, c)
	require.NoError(t, err)
	bc, err := Intersect(b, c)
	require.NoError(t, err)
	aBC, err := Intersect(a, bc)
	require.NoError(t, err)
	assert.Equal(t, abC, aBC)
}

func TestIntersectSelfIsIdentity(t *testing.T) {
	a, _ := New("vlan", Range{1780, 1789})
	aa, err := Intersect(a, a)
	require.NoError(t, err)
	assert.Equal(t, a, aa)
}

func TestIntersectEmptyFails(t *testing.T) {
	a, _ := New("vlan", Range{1, 10})
	b, _ := New("vlan", Range{20, 30})
	_, err := Intersect(a, b)
	assert.Error(t, err)
}

func TestIntersectTypeMismatchFails(t *testing.T) {
	a, _ := New("vlan", Range{1, 10})
	b, _ := New("mpls-label", Range{1, 10})
	_, err := Intersect(a, b)
	assert.Error(t, err)
}

func TestIntersectDoesNotMutateOperands(t *testing.T) {
	a, _ := New("vlan", Range{1, 100})
	b, _ := New("vlan", Range{50, 60})
	aBefore := append([]Range(nil), a.Ranges...)

	_, err := Intersect(a, b)
	require.NoError(t, err)
	assert.Equal(t, aBefore, a.Ranges)
}

func TestEnumerateAscending(t *testing.T) {
	l, _ := New("vlan", Range{5, 7}, Range{1, 2})
	assert.Equal(t, []int{1, 2, 5, 6, 7}, l.Enumerate())
}

func TestContains(t *testing.T) {
	l, _ := New("vlan", Range{1780, 1789}, Range{1800, 1800})
	assert.True(t, l.Contains(1785))
	assert.True(t, l.Contains(1800))
	assert.False(t, l.Contains(1790))
}
