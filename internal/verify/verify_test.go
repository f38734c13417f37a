package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmoreau/hydrod/internal/store"
)

// fakeStore implements the subset of store.Store the checks touch.
type fakeStore struct {
	store.Store

	structureErr error
	violations   []string
	counts       map[string]int
}

func (f *fakeStore) CheckStructure(context.Context) error { return f.structureErr }

func (f *fakeStore) CheckForeignKeys(context.Context) ([]string, error) {
	return f.violations, nil
}

func (f *fakeStore) TableCounts(context.Context) (map[string]int, error) {
	return f.counts, nil
}

func fullCounts() map[string]int {
	counts := make(map[string]int)
	for _, table := range store.Tables {
		counts[table] = 10
	}
	return counts
}

func TestRun_AllPass(t *testing.T) {
	s := &fakeStore{counts: fullCounts()}

	results := Run(context.Background(), s)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.NoError(t, r.Err, r.Name)
	}
	assert.False(t, Failed(results))
}

func TestRun_StructureFailure(t *testing.T) {
	s := &fakeStore{
		structureErr: errors.New("page corruption"),
		counts:       fullCounts(),
	}

	results := Run(context.Background(), s)
	assert.True(t, Failed(results))
	assert.Error(t, results[0].Err)
	assert.NoError(t, results[1].Err)
}

func TestRun_ForeignKeyViolations(t *testing.T) {
	s := &fakeStore{
		violations: []string{"station X references missing commune row"},
		counts:     fullCounts(),
	}

	results := Run(context.Background(), s)
	require.True(t, Failed(results))
	assert.Contains(t, results[1].Err.Error(), "missing commune")
}

func TestRun_EmptyTable(t *testing.T) {
	counts := fullCounts()
	counts["cours_eau"] = 0
	s := &fakeStore{counts: counts}

	results := Run(context.Background(), s)
	require.True(t, Failed(results))
	assert.Contains(t, results[2].Err.Error(), "cours_eau")
}
