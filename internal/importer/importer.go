// Package importer drives the ingestion pipeline: paginated fetch from the
// Hub'Eau station referential, normalization into typed entities, and
// referential upserts into the store in parent-before-child order.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoreau/hydrod/internal/hubeau"
	"github.com/jmoreau/hydrod/internal/observability"
	"github.com/jmoreau/hydrod/internal/store"
)

// Importer runs the full ingestion pipeline. Single-threaded: pages are
// fetched and written strictly in order.
type Importer struct {
	client  *hubeau.Client
	store   store.Store
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Stats summarizes one import run.
type Stats struct {
	Pages            int
	Records          int
	StationsImported int
	StationsSkipped  int
}

// New creates an Importer.
func New(c *hubeau.Client, s store.Store, logger *slog.Logger, metrics *observability.Metrics) *Importer {
	return &Importer{client: c, store: s, logger: logger, metrics: metrics}
}

// Run ingests the complete station referential starting at startPage. Each
// page is committed as one transaction: a failure mid-page leaves nothing of
// that page behind, and inserts are idempotent, so an interrupted run is
// recoverable by re-running. Transport errors are fatal; per-record problems
// are logged as skips and never abort the page.
func (im *Importer) Run(ctx context.Context, startPage int) (Stats, error) {
	var stats Stats
	started := time.Now()

	err := im.client.ForEachStationsPage(ctx, startPage, func(page int, recs []hubeau.StationRecord) error {
		im.metrics.PagesFetched.Inc()

		if err := im.importPage(ctx, recs, &stats); err != nil {
			return fmt.Errorf("importing page %d: %w", page, err)
		}
		stats.Pages++

		im.logger.Info("page imported",
			"page", page,
			"records", len(recs),
			"total_records", stats.Records,
		)
		return nil
	})

	im.metrics.ImportDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		return stats, err
	}

	im.logger.Info("import complete",
		"pages", stats.Pages,
		"records", stats.Records,
		"stations_imported", stats.StationsImported,
		"stations_skipped", stats.StationsSkipped,
	)
	return stats, nil
}

// importPage writes one page of records inside a single transaction.
func (im *Importer) importPage(ctx context.Context, recs []hubeau.StationRecord, stats *Stats) error {
	sess, err := im.store.BeginImport(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = sess.Rollback()
		}
	}()

	for _, rec := range recs {
		stats.Records++
		im.metrics.RecordsProcessed.Inc()

		entities, skip := Normalize(rec)
		im.upsertEntities(ctx, sess, entities, skip, stats)
	}

	if err := sess.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// upsertEntities writes the non-nil entities in parent-before-child order.
// Store-level integrity errors are caught per insert: the entity is simply
// not written and the page continues.
func (im *Importer) upsertEntities(ctx context.Context, sess store.ImportSession, e Entities, skip *Skip, stats *Stats) {
	if e.Region != nil {
		im.upsertOne(ctx, "region", e.Region.Code, func() error { return sess.UpsertRegion(ctx, *e.Region) })
	}
	if e.Department != nil {
		im.upsertOne(ctx, "departement", e.Department.Code, func() error { return sess.UpsertDepartment(ctx, *e.Department) })
	}
	if e.Commune != nil {
		im.upsertOne(ctx, "commune", e.Commune.Code, func() error { return sess.UpsertCommune(ctx, *e.Commune) })
	}
	if e.Basin != nil {
		im.upsertOne(ctx, "bassin", e.Basin.Code, func() error { return sess.UpsertBasin(ctx, *e.Basin) })
	}
	if e.Watercourse != nil {
		im.upsertOne(ctx, "cours_eau", e.Watercourse.Code, func() error { return sess.UpsertWatercourse(ctx, *e.Watercourse) })
	}

	if skip != nil {
		stats.StationsSkipped++
		im.metrics.StationsSkipped.WithLabelValues(skip.Reason).Inc()
		im.logger.Warn("station skipped", "code_station", skip.Code, "reason", skip.Reason)
		return
	}

	if err := sess.UpsertStation(ctx, *e.Station); err != nil {
		stats.StationsSkipped++
		im.metrics.StationsSkipped.WithLabelValues("integrity error").Inc()
		im.logger.Warn("station rejected by store", "code_station", e.Station.Code, "error", err)
		return
	}
	stats.StationsImported++
	im.metrics.StationsImported.Inc()
}

func (im *Importer) upsertOne(_ context.Context, table, code string, insert func() error) {
	if err := insert(); err != nil {
		im.logger.Warn("entity rejected by store", "table", table, "code", code, "error", err)
	}
}
