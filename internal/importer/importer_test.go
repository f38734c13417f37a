package importer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmoreau/hydrod/internal/hubeau"
	"github.com/jmoreau/hydrod/internal/observability"
	"github.com/jmoreau/hydrod/internal/store"
)

func newTestImporter(t *testing.T, upstream string, pageSize int) (*Importer, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	client := hubeau.NewClient(upstream, hubeau.WithPageSize(pageSize), hubeau.WithPageDelay(0))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return New(client, s, logger, metrics), s
}

// record builds a complete flat record for station code with the given
// geography codes. Coordinates default to a valid pair.
func record(code, commune, dept, region, basin, watercourse string) map[string]any {
	return map[string]any{
		"code_region":         region,
		"libelle_region":      "Région " + region,
		"code_departement":    dept,
		"libelle_departement": "Département " + dept,
		"code_commune":        commune,
		"libelle_commune":     "Commune " + commune,
		"code_bassin":         basin,
		"libelle_bassin":      "Bassin " + basin,
		"code_cours_eau":      watercourse,
		"libelle_cours_eau":   "Cours d'eau " + watercourse,
		"uri_cours_eau":       "http://id.eaufrance.fr/CEA/" + watercourse,
		"code_station":        code,
		"libelle_station":     "Station " + code,
		"uri_station":         "http://id.eaufrance.fr/StationEcoulement/" + code,
		"etat_station":        "Active",
		"date_maj_station":    "2025-05-12",
		"latitude":            45.0,
		"longitude":           2.0,
	}
}

// pagedServer serves /stations pages from the given record slices.
func pagedServer(t *testing.T, pages ...[]map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		var data []map[string]any
		if page >= 1 && page <= len(pages) {
			data = pages[page-1]
		}
		if data == nil {
			data = []map[string]any{}
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"data": data}))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_ImportsFullHierarchy(t *testing.T) {
	srv := pagedServer(t, []map[string]any{
		record("J7083110", "35001", "35", "53", "04", "J70-0300"),
		record("K2983010", "63001", "63", "84", "04", "K29-0400"),
	})
	im, s := newTestImporter(t, srv.URL, 10)

	stats, err := im.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pages)
	assert.Equal(t, 2, stats.Records)
	assert.Equal(t, 2, stats.StationsImported)
	assert.Equal(t, 0, stats.StationsSkipped)

	counts, err := s.TableCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, counts["region"])
	assert.Equal(t, 2, counts["departement"])
	assert.Equal(t, 2, counts["commune"])
	assert.Equal(t, 1, counts["bassin"])
	assert.Equal(t, 2, counts["cours_eau"])
	assert.Equal(t, 2, counts["station"])
}

func TestRun_Idempotent(t *testing.T) {
	pages := [][]map[string]any{{
		record("J7083110", "35001", "35", "53", "04", "J70-0300"),
		record("K2983010", "63001", "63", "84", "04", "K29-0400"),
	}}
	srv := pagedServer(t, pages...)
	im, s := newTestImporter(t, srv.URL, 10)
	ctx := context.Background()

	_, err := im.Run(ctx, 1)
	require.NoError(t, err)
	first, err := s.TableCounts(ctx)
	require.NoError(t, err)

	// Second run against the populated store: same counts, no errors.
	_, err = im.Run(ctx, 1)
	require.NoError(t, err)
	second, err := s.TableCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRun_CoordinateGuard(t *testing.T) {
	bad := record("X9999999", "35010", "35", "53", "04", "J70-0300")
	bad["latitude"] = 95.0
	good := record("J7083110", "35001", "35", "53", "04", "J70-0300")

	srv := pagedServer(t, []map[string]any{bad, good})
	im, s := newTestImporter(t, srv.URL, 10)
	ctx := context.Background()

	stats, err := im.Run(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.StationsImported)
	assert.Equal(t, 1, stats.StationsSkipped)

	counts, err := s.TableCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts["station"])
	// The rejected station's commune was still written.
	assert.Equal(t, 2, counts["commune"])

	missing, err := s.GetStation(ctx, "X9999999")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRun_PartialRecordKeepsGeography(t *testing.T) {
	rec := record("J7083110", "35001", "35", "53", "04", "J70-0300")
	rec["code_cours_eau"] = ""

	srv := pagedServer(t, []map[string]any{rec})
	im, s := newTestImporter(t, srv.URL, 10)
	ctx := context.Background()

	stats, err := im.Run(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.StationsImported)
	assert.Equal(t, 1, stats.StationsSkipped)

	counts, err := s.TableCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts["region"])
	assert.Equal(t, 1, counts["departement"])
	assert.Equal(t, 1, counts["commune"])
	assert.Equal(t, 1, counts["bassin"])
	assert.Equal(t, 0, counts["cours_eau"])
	assert.Equal(t, 0, counts["station"])
}

func TestRun_DanglingChainRecordKeepsPage(t *testing.T) {
	// The bad record carries commune and cours_eau codes but no departement:
	// its station must be skipped without disturbing the rest of the page.
	bad := record("X9999999", "35010", "", "53", "04", "J70-0300")
	good := record("J7083110", "35001", "35", "53", "04", "J70-0300")

	srv := pagedServer(t, []map[string]any{bad, good})
	im, s := newTestImporter(t, srv.URL, 10)
	ctx := context.Background()

	stats, err := im.Run(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pages)
	assert.Equal(t, 1, stats.StationsImported)
	assert.Equal(t, 1, stats.StationsSkipped)

	counts, err := s.TableCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts["station"])
	// The dangling commune was never written, only the good record's.
	assert.Equal(t, 1, counts["commune"])
	assert.Equal(t, 1, counts["departement"])

	violations, err := s.CheckForeignKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, violations)

	missing, err := s.GetStation(ctx, "X9999999")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRun_ReferentialCompleteness(t *testing.T) {
	srv := pagedServer(t,
		[]map[string]any{
			record("J7083110", "35001", "35", "53", "04", "J70-0300"),
			record("K2983010", "63001", "63", "84", "04", "K29-0400"),
		},
		[]map[string]any{
			record("H5083340", "75056", "75", "11", "03", "H50-0200"),
		},
	)
	im, s := newTestImporter(t, srv.URL, 2)
	ctx := context.Background()

	stats, err := im.Run(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pages)

	violations, err := s.CheckForeignKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestRun_LastPageDetection(t *testing.T) {
	// Page 1 is exactly full, page 2 empty: exactly one page imported.
	full := []map[string]any{
		record("J7083110", "35001", "35", "53", "04", "J70-0300"),
		record("K2983010", "63001", "63", "84", "04", "K29-0400"),
	}
	srv := pagedServer(t, full)
	im, s := newTestImporter(t, srv.URL, 2)
	ctx := context.Background()

	stats, err := im.Run(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pages)
	assert.Equal(t, 2, stats.Records)

	counts, err := s.TableCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts["station"])
}

func TestRun_TransportErrorIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	im, s := newTestImporter(t, srv.URL, 10)
	ctx := context.Background()

	_, err := im.Run(ctx, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page 1")

	counts, err := s.TableCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts["station"])
}

func TestRun_WhitespaceCodeStoredCanonical(t *testing.T) {
	rec := record("J708 3110", "35001", "35", "53", "04", "J70-0300")
	srv := pagedServer(t, []map[string]any{rec})
	im, s := newTestImporter(t, srv.URL, 10)
	ctx := context.Background()

	_, err := im.Run(ctx, 1)
	require.NoError(t, err)

	// Retrievable by the stripped form and by the spaced form.
	d, err := s.GetStation(ctx, "J7083110")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "J7083110", d.Code)

	d, err = s.GetStation(ctx, "J708 3110")
	require.NoError(t, err)
	require.NotNil(t, d)
}
