// Package verify runs post-import integrity checks against a populated store.
package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoreau/hydrod/internal/store"
)

// Result is the outcome of one named check. Err is nil on pass.
type Result struct {
	Name string
	Err  error
}

// Run executes the three integrity checks: structural consistency, zero
// foreign-key violations, and at least one row in every table.
func Run(ctx context.Context, s store.Store) []Result {
	return []Result{
		{Name: "structure", Err: checkStructure(ctx, s)},
		{Name: "foreign keys", Err: checkForeignKeys(ctx, s)},
		{Name: "row counts", Err: checkRowCounts(ctx, s)},
	}
}

// Failed reports whether any check failed.
func Failed(results []Result) bool {
	for _, r := range results {
		if r.Err != nil {
			return true
		}
	}
	return false
}

func checkStructure(ctx context.Context, s store.Store) error {
	return s.CheckStructure(ctx)
}

func checkForeignKeys(ctx context.Context, s store.Store) error {
	violations, err := s.CheckForeignKeys(ctx)
	if err != nil {
		return err
	}
	if len(violations) > 0 {
		return fmt.Errorf("%d foreign-key violation(s):\n  %s",
			len(violations), strings.Join(violations, "\n  "))
	}
	return nil
}

func checkRowCounts(ctx context.Context, s store.Store) error {
	counts, err := s.TableCounts(ctx)
	if err != nil {
		return err
	}
	var empty []string
	for _, table := range store.Tables {
		if counts[table] < 1 {
			empty = append(empty, table)
		}
	}
	if len(empty) > 0 {
		return fmt.Errorf("empty table(s): %s", strings.Join(empty, ", "))
	}
	return nil
}
