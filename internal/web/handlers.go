package web

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/jmoreau/hydrod/internal/hubeau"
	"github.com/jmoreau/hydrod/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

const (
	communeListCap   = 20
	observationCount = 200
	campaignCount    = 50
	statsWindowDays  = 90
	statsSampleSize  = 20000
)

// FlowSource provides the live Hub'Eau sections of the pages: recent
// observations and campaigns are not persisted, they are fetched on demand.
type FlowSource interface {
	StationObservations(ctx context.Context, stationCode string, size int) ([]hubeau.Observation, error)
	StationCampaigns(ctx context.Context, stationCode string, size int) ([]hubeau.Campaign, error)
	RecentObservations(ctx context.Context, from, to time.Time, size int) ([]hubeau.Observation, error)
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Store     store.Store
	Flow      FlowSource
	Logger    *slog.Logger
	StartTime time.Time
	Version   string
}

func (h *Handlers) render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := templates.ExecuteTemplate(w, name, data); err != nil {
		h.Logger.Error("rendering template", "template", name, "error", err)
	}
}

func (h *Handlers) renderNotFound(w http.ResponseWriter, what, code string) {
	h.render(w, http.StatusNotFound, "notfound.html", struct {
		What string
		Code string
	}{What: what, Code: code})
}

func (h *Handlers) serverError(w http.ResponseWriter, msg string, err error) {
	h.Logger.Error(msg, "error", err)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

// Home handles GET /. Query-string filters region, departement, and search
// narrow the station listing; no match renders an empty state, not an error.
func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.StationFilter{
		RegionLabel:     q.Get("region"),
		DepartmentLabel: q.Get("departement"),
		Search:          q.Get("search"),
	}

	stations, err := h.Store.ListStations(r.Context(), filter)
	if err != nil {
		h.serverError(w, "listing stations", err)
		return
	}

	regions, err := h.Store.ListRegions(r.Context())
	if err != nil {
		h.serverError(w, "listing regions", err)
		return
	}

	// The department dropdown is scoped to the selected region.
	var departments []store.Department
	if filter.RegionLabel != "" {
		for _, reg := range regions {
			if reg.Label == filter.RegionLabel {
				departments, err = h.Store.ListDepartments(r.Context(), reg.Code)
				if err != nil {
					h.serverError(w, "listing departements", err)
					return
				}
				break
			}
		}
	}

	h.render(w, http.StatusOK, "index.html", struct {
		Stations    []store.StationSummary
		Regions     []store.Region
		Departments []store.Department
		Filter      store.StationFilter
		Total       int
	}{
		Stations:    stations,
		Regions:     regions,
		Departments: departments,
		Filter:      filter,
		Total:       len(stations),
	})
}

// RegionPage handles GET /region/{code}: the departments of one region.
func (h *Handlers) RegionPage(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")

	region, err := h.Store.GetRegion(r.Context(), code)
	if err != nil {
		h.serverError(w, "getting region", err)
		return
	}
	if region == nil {
		h.renderNotFound(w, "région", code)
		return
	}

	departments, err := h.Store.ListDepartments(r.Context(), code)
	if err != nil {
		h.serverError(w, "listing departements", err)
		return
	}

	h.render(w, http.StatusOK, "region.html", struct {
		Region      store.Region
		Departments []store.Department
	}{Region: *region, Departments: departments})
}

// DepartmentPage handles GET /departement/{code}: the communes of one
// department, capped.
func (h *Handlers) DepartmentPage(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")

	department, err := h.Store.GetDepartment(r.Context(), code)
	if err != nil {
		h.serverError(w, "getting departement", err)
		return
	}
	if department == nil {
		h.renderNotFound(w, "département", code)
		return
	}

	var region store.Region
	if reg, err := h.Store.GetRegion(r.Context(), department.RegionCode); err == nil && reg != nil {
		region = *reg
	}

	communes, err := h.Store.ListCommunes(r.Context(), code, communeListCap)
	if err != nil {
		h.serverError(w, "listing communes", err)
		return
	}

	h.render(w, http.StatusOK, "departement.html", struct {
		Department store.Department
		Region     store.Region
		Communes   []store.Commune
		Cap        int
	}{Department: *department, Region: region, Communes: communes, Cap: communeListCap})
}

// StationPage handles GET /station/{code}: stored detail plus live recent
// observations and campaigns. Upstream fetch failures degrade to empty
// sections rather than failing the page.
func (h *Handlers) StationPage(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")

	detail, err := h.Store.GetStation(r.Context(), code)
	if err != nil {
		h.serverError(w, "getting station", err)
		return
	}
	if detail == nil {
		h.renderNotFound(w, "station", code)
		return
	}

	observations, err := h.Flow.StationObservations(r.Context(), detail.Code, observationCount)
	if err != nil {
		h.Logger.Warn("fetching observations", "station", detail.Code, "error", err)
		observations = nil
	}

	campaigns, err := h.Flow.StationCampaigns(r.Context(), detail.Code, campaignCount)
	if err != nil {
		h.Logger.Warn("fetching campaigns", "station", detail.Code, "error", err)
		campaigns = nil
	}

	h.render(w, http.StatusOK, "station.html", struct {
		Station      store.StationDetail
		Observations []hubeau.Observation
		Campaigns    []hubeau.Campaign
	}{Station: *detail, Observations: observations, Campaigns: campaigns})
}

// flowShare is one row of the stats distribution.
type flowShare struct {
	Label   string
	Count   int
	Percent string
}

// Stats handles GET /stats: the distribution of flow types observed across
// all stations over the recent window.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	to := time.Now()
	from := to.AddDate(0, 0, -statsWindowDays)

	observations, err := h.Flow.RecentObservations(r.Context(), from, to, statsSampleSize)
	if err != nil {
		h.Logger.Warn("fetching recent observations", "error", err)
		observations = nil
	}

	counts := make(map[string]int)
	for _, obs := range observations {
		label := obs.FlowLabel
		if label == "" {
			label = obs.FlowCode
		}
		if label == "" {
			label = "inconnu"
		}
		counts[label]++
	}

	shares := make([]flowShare, 0, len(counts))
	for label, n := range counts {
		shares = append(shares, flowShare{
			Label:   label,
			Count:   n,
			Percent: fmt.Sprintf("%.1f", 100*float64(n)/float64(len(observations))),
		})
	}
	sort.Slice(shares, func(i, j int) bool {
		if shares[i].Count != shares[j].Count {
			return shares[i].Count > shares[j].Count
		}
		return shares[i].Label < shares[j].Label
	})

	h.render(w, http.StatusOK, "stats.html", struct {
		From   string
		To     string
		Total  int
		Shares []flowShare
	}{
		From:   from.Format(time.DateOnly),
		To:     to.Format(time.DateOnly),
		Total:  len(observations),
		Shares: shares,
	})
}

// Health handles GET /healthz.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	counts, err := h.Store.TableCounts(r.Context())
	if err != nil {
		h.Logger.Error("counting tables", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy"})
		return
	}

	resp := struct {
		Status  string         `json:"status"`
		Version string         `json:"version"`
		Uptime  string         `json:"uptime"`
		Tables  map[string]int `json:"tables"`
	}{
		Status:  "healthy",
		Version: h.Version,
		Uptime:  time.Since(h.StartTime).Round(time.Second).String(),
		Tables:  counts,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.Logger.Error("encoding health response", "error", err)
	}
}
