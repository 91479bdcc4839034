package hierarchy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabrepo/api/internal/apperr"
)

type mapTree map[string]string

func (m mapTree) ParentOf(_ context.Context, id string) (string, error) {
	parent, ok := m[id]
	if !ok {
		return "", apperr.NotFound("node %s", id)
	}
	return parent, nil
}

// r is the root; c under r; d under c; e under d; s is a sibling of c.
func sampleTree() mapTree {
	return mapTree{"r": "", "c": "r", "d": "c", "e": "d", "s": "r"}
}

func TestValidate(t *testing.T) {
	tree := sampleTree()
	checker := NewChecker(10)
	ctx := context.Background()

	tests := []struct {
		name   string
		id     string
		parent string
		kind   apperr.Kind
	}{
		{name: "self parent", id: "c", parent: "c", kind: apperr.KindCycleDetected},
		{name: "direct child", id: "c", parent: "d", kind: apperr.KindCycleDetected},
		{name: "deep descendant", id: "c", parent: "e", kind: apperr.KindCycleDetected},
		{name: "root under descendant", id: "r", parent: "e", kind: apperr.KindCycleDetected},
		{name: "sibling", id: "d", parent: "s", kind: ""},
		{name: "move to root", id: "e", parent: "r", kind: ""},
		{name: "clear parent", id: "e", parent: "", kind: ""},
		{name: "unknown parent", id: "e", parent: "zz", kind: apperr.KindNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := checker.Validate(ctx, tree, tc.id, tc.parent)
			if tc.kind == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.kind, apperr.KindOf(err))
		})
	}
}

func TestSelfParentNeedsNoLookups(t *testing.T) {
	calls := 0
	tree := TreeFunc(func(context.Context, string) (string, error) {
		calls++
		return "", nil
	})

	err := NewChecker(0).Validate(context.Background(), tree, "a", "a")
	require.True(t, apperr.Is(err, apperr.KindCycleDetected))
	assert.Zero(t, calls)
}

func TestWalkStopsOnExistingCycle(t *testing.T) {
	tree := mapTree{"a": "b", "b": "a", "x": "a"}

	err := NewChecker(100).Validate(context.Background(), tree, "x2", "x")
	require.True(t, apperr.Is(err, apperr.KindDataIntegrity), "got %v", err)
}

func TestWalkDepthGuard(t *testing.T) {
	tree := mapTree{nodeName(0): ""}
	for i := 1; i <= 20; i++ {
		tree[nodeName(i)] = nodeName(i - 1)
	}

	err := NewChecker(5).Validate(context.Background(), tree, "other", nodeName(20))
	require.True(t, apperr.Is(err, apperr.KindInvalidHierarchy), "got %v", err)
}

func TestWalkVisitsNearestFirst(t *testing.T) {
	var visited []string
	err := NewChecker(10).Walk(context.Background(), sampleTree(), "e", func(id string) (bool, error) {
		visited = append(visited, id)
		return id == "c", nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"e", "d", "c"}, visited)
}

func nodeName(i int) string {
	return "n" + string(rune('a'+i))
}
