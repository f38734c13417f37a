package hubeau

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

func makeRecords(n int) []StationRecord {
	recs := make([]StationRecord, n)
	for i := range recs {
		recs[i] = StationRecord{CodeStation: strp(fmt.Sprintf("S%04d", i))}
	}
	return recs
}

// stationsServer serves /stations pages out of the given slices, one per page.
func stationsServer(t *testing.T, pages ...[]StationRecord) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/stations", r.URL.Path)
		calls.Add(1)
		page, err := strconv.Atoi(r.URL.Query().Get("page"))
		require.NoError(t, err)

		var data []StationRecord
		if page >= 1 && page <= len(pages) {
			data = pages[page-1]
		}
		if data == nil {
			data = []StationRecord{}
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"data": data}))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestForEachStationsPage_LastPageShort(t *testing.T) {
	srv, calls := stationsServer(t, makeRecords(5), makeRecords(3))
	c := NewClient(srv.URL, WithPageSize(5), WithPageDelay(0))

	var got [][]StationRecord
	err := c.ForEachStationsPage(context.Background(), 1, func(page int, recs []StationRecord) error {
		got = append(got, recs)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Len(t, got[0], 5)
	assert.Len(t, got[1], 3)
	// Short second page ends the iteration; no third request.
	assert.Equal(t, int32(2), calls.Load())
}

func TestForEachStationsPage_FullThenEmpty(t *testing.T) {
	// A full final page forces one extra fetch, which must come back empty
	// and produce no callback.
	srv, calls := stationsServer(t, makeRecords(5), makeRecords(5))
	c := NewClient(srv.URL, WithPageSize(5), WithPageDelay(0))

	var pagesSeen []int
	err := c.ForEachStationsPage(context.Background(), 1, func(page int, recs []StationRecord) error {
		pagesSeen = append(pagesSeen, page)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, pagesSeen)
	assert.Equal(t, int32(3), calls.Load())
}

func TestForEachStationsPage_HTTPErrorIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, WithPageSize(5), WithPageDelay(0))

	err := c.ForEachStationsPage(context.Background(), 1, func(int, []StationRecord) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page 1")
}

func TestForEachStationsPage_CallbackErrorStops(t *testing.T) {
	srv, calls := stationsServer(t, makeRecords(5), makeRecords(5))
	c := NewClient(srv.URL, WithPageSize(5), WithPageDelay(0))

	wantErr := fmt.Errorf("stop here")
	err := c.ForEachStationsPage(context.Background(), 1, func(int, []StationRecord) error { return wantErr })
	require.ErrorIs(t, err, wantErr)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchStationsPage_SendsFieldsAndSize(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, WithPageSize(100))

	_, err := c.FetchStationsPage(context.Background(), 3)
	require.NoError(t, err)
	assert.Contains(t, query, "size=100")
	assert.Contains(t, query, "page=3")
	assert.Contains(t, query, "code_station")
	assert.Contains(t, query, "longitude")
}

func TestStationObservations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/observations", r.URL.Path)
		assert.Equal(t, "J7083110", r.URL.Query().Get("code_station"))
		assert.Equal(t, "date_observation_desc", r.URL.Query().Get("sort"))
		_, _ = w.Write([]byte(`{"data":[
			{"code_station":"J7083110","date_observation":"2025-08-01","code_ecoulement":"1","libelle_ecoulement":"Ecoulement visible"}
		]}`))
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL)

	obs, err := c.StationObservations(context.Background(), "J7083110", 200)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, "Ecoulement visible", obs[0].FlowLabel)
}

func TestStationCampaigns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/campagnes", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[
			{"code_campagne":412,"date_campagne":"2025-07-15","libelle_type_campagne":"usuelle"}
		]}`))
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL)

	camps, err := c.StationCampaigns(context.Background(), "J7083110", 50)
	require.NoError(t, err)
	require.Len(t, camps, 1)
	assert.Equal(t, 412, camps[0].Code)
	assert.Equal(t, "usuelle", camps[0].TypeLabel)
}

func TestNonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL)

	_, err := c.StationObservations(context.Background(), "X", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestPartialContentAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte(`{"data":[{"code_station":"A"}]}`))
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL)

	recs, err := c.FetchStationsPage(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
