package store

import "context"

// Store is the interface over the relational station store.
// Both SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	// BeginImport starts an import session. All upserts performed through the
	// session become durable together on Commit; Rollback discards them.
	BeginImport(ctx context.Context) (ImportSession, error)

	// ListRegions returns all regions ordered by label.
	ListRegions(ctx context.Context) ([]Region, error)

	// GetRegion returns one region by code. Returns nil when not found.
	GetRegion(ctx context.Context, code string) (*Region, error)

	// GetDepartment returns one department by code. Returns nil when not found.
	GetDepartment(ctx context.Context, code string) (*Department, error)

	// ListDepartments returns the departments of a region, ordered by label.
	ListDepartments(ctx context.Context, regionCode string) ([]Department, error)

	// ListCommunes returns up to limit communes of a department, ordered by label.
	// limit <= 0 means no cap.
	ListCommunes(ctx context.Context, departmentCode string, limit int) ([]Commune, error)

	// ListStations returns station summaries matching the filter, joined
	// through commune/departement/region/cours_eau, ordered by label.
	ListStations(ctx context.Context, f StationFilter) ([]StationSummary, error)

	// GetStation returns the full denormalized detail for one station code,
	// tolerant of embedded whitespace in the code. Returns nil when not found.
	GetStation(ctx context.Context, code string) (*StationDetail, error)

	// TableCounts returns the row count of every table in the schema.
	TableCounts(ctx context.Context) (map[string]int, error)

	// CheckForeignKeys returns a description of every foreign-key violation.
	// A healthy store returns an empty slice.
	CheckForeignKeys(ctx context.Context) ([]string, error)

	// CheckStructure runs the engine's structural consistency check.
	CheckStructure(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// ImportSession wraps one transaction of the import pipeline. Every upsert is
// insert-if-absent on the natural key: re-inserting an existing key is a
// silent no-op.
type ImportSession interface {
	UpsertRegion(ctx context.Context, r Region) error
	UpsertDepartment(ctx context.Context, d Department) error
	UpsertCommune(ctx context.Context, c Commune) error
	UpsertBasin(ctx context.Context, b Basin) error
	UpsertWatercourse(ctx context.Context, w Watercourse) error
	UpsertStation(ctx context.Context, s Station) error
	Commit() error
	Rollback() error
}

// Tables lists the schema tables in parent-before-child order.
var Tables = []string{"region", "departement", "commune", "bassin", "cours_eau", "station"}

// Region is an administrative region, keyed by its official code.
type Region struct {
	Code  string
	Label string
}

// Department is an administrative department within a region.
type Department struct {
	Code       string
	Label      string
	RegionCode string
}

// Commune is a municipality within a department.
type Commune struct {
	Code           string
	Label          string
	DepartmentCode string
}

// Basin is a hydrographic basin, an independent root entity.
type Basin struct {
	Code  string
	Label string
}

// Watercourse is a river or stream belonging to a basin.
type Watercourse struct {
	Code      string
	Label     string
	URI       string
	BasinCode string
}

// Station is a river-flow observation station. Codes are stored in canonical
// whitespace-free form.
type Station struct {
	Code            string
	Label           string
	URI             string
	Status          string
	UpdatedAt       string
	Latitude        float64
	Longitude       float64
	CommuneCode     string
	WatercourseCode string
}

// StationFilter narrows ListStations results. Empty fields are ignored.
// Search matches case-insensitively against station label or code.
type StationFilter struct {
	RegionLabel     string
	DepartmentLabel string
	Search          string
}

// StationSummary is the listing row joined through the geography tables.
type StationSummary struct {
	Code             string
	Label            string
	Latitude         float64
	Longitude        float64
	CommuneLabel     string
	DepartmentLabel  string
	RegionLabel      string
	WatercourseLabel string
}

// StationDetail is the full denormalized station view.
type StationDetail struct {
	StationSummary
	URI        string
	Status     string
	UpdatedAt  string
	BasinLabel string
}
