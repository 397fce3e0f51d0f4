package universe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultUniverse_ReturnsIndependentCopy(t *testing.T) {
	a := DefaultUniverse()
	a[0] = "mutated"
	b := DefaultUniverse()
	require.NotEqual(t, "mutated", b[0])
	require.Len(t, b, 20)
}

func TestStaticProvider_TopByTradingValue_RespectsSize(t *testing.T) {
	p := StaticProvider{Symbols: []string{"A", "B", "C", "D"}}

	out, err := p.TopByTradingValue(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B"}, out)

	out, err = p.TopByTradingValue(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B", "C", "D"}, out)
}

func TestDiff_AddedAndRemoved(t *testing.T) {
	old := []string{"A", "B", "C"}
	updated := []string{"B", "C", "D"}

	added, removed := Diff(old, updated)
	require.Equal(t, []string{"D"}, added)
	require.Equal(t, []string{"A"}, removed)
}

func TestDiff_NoChange(t *testing.T) {
	same := []string{"A", "B"}
	added, removed := Diff(same, same)
	require.Empty(t, added)
	require.Empty(t, removed)
}
