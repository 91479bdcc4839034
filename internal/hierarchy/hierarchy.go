// Package hierarchy validates parent-pointer changes on id-indexed trees.
//
// Trees are never held in memory; every step asks a Tree for the parent of a
// node, so the check always reads the state visible to the caller's
// transaction.
package hierarchy

import (
	"context"
	"fmt"

	"collabrepo/api/internal/apperr"
)

const DefaultMaxDepth = 1000

// Tree resolves a node's parent. Roots return "". A missing node is an error.
type Tree interface {
	ParentOf(ctx context.Context, id string) (string, error)
}

type TreeFunc func(ctx context.Context, id string) (string, error)

func (f TreeFunc) ParentOf(ctx context.Context, id string) (string, error) {
	return f(ctx, id)
}

type Checker struct {
	MaxDepth int
}

func NewChecker(maxDepth int) Checker {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return Checker{MaxDepth: maxDepth}
}

// Validate fails with CYCLE_DETECTED when proposedParent is id itself or any
// descendant of id. An empty proposedParent is always valid.
func (c Checker) Validate(ctx context.Context, tree Tree, id, proposedParent string) error {
	if proposedParent == "" {
		return nil
	}
	if proposedParent == id {
		return apperr.CycleDetected("%s cannot be its own parent", id)
	}
	return c.Walk(ctx, tree, proposedParent, func(ancestor string) (bool, error) {
		if ancestor == id {
			return true, apperr.CycleDetected("%s is an ancestor of %s", id, proposedParent)
		}
		return false, nil
	})
}

// Walk visits from and then each of its ancestors, nearest first, until visit
// returns stop or the root has been visited.
func (c Checker) Walk(ctx context.Context, tree Tree, from string, visit func(id string) (stop bool, err error)) error {
	maxDepth := c.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	seen := make(map[string]struct{})
	current := from
	for depth := 0; current != ""; depth++ {
		if depth > maxDepth {
			return apperr.InvalidHierarchy("ancestor chain of %s exceeds max depth %d", from, maxDepth)
		}
		if _, ok := seen[current]; ok {
			return apperr.DataIntegrity("existing cycle through %s above %s", current, from)
		}
		seen[current] = struct{}{}

		stop, err := visit(current)
		if err != nil || stop {
			return err
		}

		parent, err := tree.ParentOf(ctx, current)
		if err != nil {
			return fmt.Errorf("parent of %s: %w", current, err)
		}
		current = parent
	}
	return nil
}
