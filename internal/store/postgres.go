package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed pgmigrations/*.sql
var pgMigrations embed.FS

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a PostgreSQL connection and runs migrations.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	goose.SetBaseFS(pgMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Up(db, "pgmigrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// DB returns the underlying database connection for migration commands.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) BeginImport(ctx context.Context) (ImportSession, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning import transaction: %w", err)
	}
	return &postgresSession{tx: tx}, nil
}

type postgresSession struct {
	tx *sql.Tx
}

// exec runs one upsert inside a savepoint. A failed statement would otherwise
// poison the whole transaction (SQLSTATE 25P02, "current transaction is
// aborted"); rolling back to the savepoint keeps the rest of the page usable,
// matching SQLite's per-statement failure behavior.
func (s *postgresSession) exec(ctx context.Context, query string, args ...any) error {
	if _, err := s.tx.ExecContext(ctx, "SAVEPOINT upsert"); err != nil {
		return fmt.Errorf("creating savepoint: %w", err)
	}
	if _, err := s.tx.ExecContext(ctx, query, args...); err != nil {
		if _, rbErr := s.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT upsert"); rbErr != nil {
			return fmt.Errorf("rolling back savepoint after %v: %w", err, rbErr)
		}
		return err
	}
	if _, err := s.tx.ExecContext(ctx, "RELEASE SAVEPOINT upsert"); err != nil {
		return fmt.Errorf("releasing savepoint: %w", err)
	}
	return nil
}

func (s *postgresSession) UpsertRegion(ctx context.Context, r Region) error {
	err := s.exec(ctx, `
		INSERT INTO region (code_region, libelle_region)
		VALUES ($1, $2)
		ON CONFLICT (code_region) DO NOTHING`, r.Code, r.Label)
	if err != nil {
		return fmt.Errorf("upserting region %s: %w", r.Code, err)
	}
	return nil
}

func (s *postgresSession) UpsertDepartment(ctx context.Context, d Department) error {
	err := s.exec(ctx, `
		INSERT INTO departement (code_departement, libelle_departement, code_region)
		VALUES ($1, $2, $3)
		ON CONFLICT (code_departement) DO NOTHING`, d.Code, d.Label, d.RegionCode)
	if err != nil {
		return fmt.Errorf("upserting departement %s: %w", d.Code, err)
	}
	return nil
}

func (s *postgresSession) UpsertCommune(ctx context.Context, c Commune) error {
	err := s.exec(ctx, `
		INSERT INTO commune (code_commune, libelle_commune, code_departement)
		VALUES ($1, $2, $3)
		ON CONFLICT (code_commune) DO NOTHING`, c.Code, c.Label, c.DepartmentCode)
	if err != nil {
		return fmt.Errorf("upserting commune %s: %w", c.Code, err)
	}
	return nil
}

func (s *postgresSession) UpsertBasin(ctx context.Context, b Basin) error {
	err := s.exec(ctx, `
		INSERT INTO bassin (code_bassin, libelle_bassin)
		VALUES ($1, $2)
		ON CONFLICT (code_bassin) DO NOTHING`, b.Code, b.Label)
	if err != nil {
		return fmt.Errorf("upserting bassin %s: %w", b.Code, err)
	}
	return nil
}

func (s *postgresSession) UpsertWatercourse(ctx context.Context, w Watercourse) error {
	err := s.exec(ctx, `
		INSERT INTO cours_eau (code_cours_eau, libelle_cours_eau, uri_cours_eau, code_bassin)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (code_cours_eau) DO NOTHING`, w.Code, w.Label, w.URI, w.BasinCode)
	if err != nil {
		return fmt.Errorf("upserting cours_eau %s: %w", w.Code, err)
	}
	return nil
}

func (s *postgresSession) UpsertStation(ctx context.Context, st Station) error {
	err := s.exec(ctx, `
		INSERT INTO station (
			code_station, libelle_station, uri_station,
			etat_station, date_maj_station,
			latitude, longitude,
			code_commune, code_cours_eau
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (code_station) DO NOTHING`,
		st.Code, st.Label, st.URI,
		st.Status, st.UpdatedAt,
		st.Latitude, st.Longitude,
		st.CommuneCode, st.WatercourseCode)
	if err != nil {
		return fmt.Errorf("upserting station %s: %w", st.Code, err)
	}
	return nil
}

func (s *postgresSession) Commit() error {
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("committing import transaction: %w", err)
	}
	return nil
}

func (s *postgresSession) Rollback() error {
	return s.tx.Rollback()
}

func (s *PostgresStore) ListRegions(ctx context.Context) ([]Region, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code_region, libelle_region
		FROM region ORDER BY libelle_region`)
	if err != nil {
		return nil, fmt.Errorf("listing regions: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var regions []Region
	for rows.Next() {
		var r Region
		if err := rows.Scan(&r.Code, &r.Label); err != nil {
			return nil, fmt.Errorf("scanning region: %w", err)
		}
		regions = append(regions, r)
	}
	return regions, rows.Err()
}

func (s *PostgresStore) GetRegion(ctx context.Context, code string) (*Region, error) {
	var r Region
	err := s.db.QueryRowContext(ctx, `
		SELECT code_region, libelle_region
		FROM region WHERE code_region = $1`, code).Scan(&r.Code, &r.Label)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting region %s: %w", code, err)
	}
	return &r, nil
}

func (s *PostgresStore) GetDepartment(ctx context.Context, code string) (*Department, error) {
	var d Department
	err := s.db.QueryRowContext(ctx, `
		SELECT code_departement, libelle_departement, code_region
		FROM departement WHERE code_departement = $1`, code).Scan(
		&d.Code, &d.Label, &d.RegionCode)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting departement %s: %w", code, err)
	}
	return &d, nil
}

func (s *PostgresStore) ListDepartments(ctx context.Context, regionCode string) ([]Department, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code_departement, libelle_departement, code_region
		FROM departement
		WHERE code_region = $1
		ORDER BY libelle_departement`, regionCode)
	if err != nil {
		return nil, fmt.Errorf("listing departements: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var deps []Department
	for rows.Next() {
		var d Department
		if err := rows.Scan(&d.Code, &d.Label, &d.RegionCode); err != nil {
			return nil, fmt.Errorf("scanning departement: %w", err)
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

func (s *PostgresStore) ListCommunes(ctx context.Context, departmentCode string, limit int) ([]Commune, error) {
	q := `
		SELECT code_commune, libelle_commune, code_departement
		FROM commune
		WHERE code_departement = $1
		ORDER BY libelle_commune`
	args := []any{departmentCode}
	if limit > 0 {
		q += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing communes: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var communes []Commune
	for rows.Next() {
		var c Commune
		if err := rows.Scan(&c.Code, &c.Label, &c.DepartmentCode); err != nil {
			return nil, fmt.Errorf("scanning commune: %w", err)
		}
		communes = append(communes, c)
	}
	return communes, rows.Err()
}

func (s *PostgresStore) ListStations(ctx context.Context, f StationFilter) ([]StationSummary, error) {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.code_station, s.libelle_station, s.latitude, s.longitude,
		       c.libelle_commune, d.libelle_departement, r.libelle_region,
		       w.libelle_cours_eau
		FROM station s
		JOIN commune c ON s.code_commune = c.code_commune
		JOIN departement d ON c.code_departement = d.code_departement
		JOIN region r ON d.code_region = r.code_region
		JOIN cours_eau w ON s.code_cours_eau = w.code_cours_eau
		WHERE ($1 = '' OR r.libelle_region = $1)
		  AND ($2 = '' OR d.libelle_departement = $2)
		  AND ($3 = ''
		       OR position($3 IN lower(s.libelle_station)) > 0
		       OR position($3 IN lower(s.code_station)) > 0)
		ORDER BY s.libelle_station`,
		f.RegionLabel, f.DepartmentLabel, search)
	if err != nil {
		return nil, fmt.Errorf("listing stations: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	return scanStationSummaries(rows)
}

func (s *PostgresStore) GetStation(ctx context.Context, code string) (*StationDetail, error) {
	canonical := canonicalCode(code)
	var d StationDetail
	err := s.db.QueryRowContext(ctx, `
		SELECT s.code_station, s.libelle_station, s.uri_station,
		       s.etat_station, s.date_maj_station, s.latitude, s.longitude,
		       c.libelle_commune, d.libelle_departement, r.libelle_region,
		       w.libelle_cours_eau, b.libelle_bassin
		FROM station s
		JOIN commune c ON s.code_commune = c.code_commune
		JOIN departement d ON c.code_departement = d.code_departement
		JOIN region r ON d.code_region = r.code_region
		JOIN cours_eau w ON s.code_cours_eau = w.code_cours_eau
		JOIN bassin b ON w.code_bassin = b.code_bassin
		WHERE REPLACE(s.code_station, ' ', '') = $1`, canonical).Scan(
		&d.Code, &d.Label, &d.URI,
		&d.Status, &d.UpdatedAt, &d.Latitude, &d.Longitude,
		&d.CommuneLabel, &d.DepartmentLabel, &d.RegionLabel,
		&d.WatercourseLabel, &d.BasinLabel)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting station %s: %w", canonical, err)
	}
	return &d, nil
}

func (s *PostgresStore) TableCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, len(Tables))
	for _, table := range Tables {
		var n int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("counting %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// fkChecks are anti-join probes equivalent to SQLite's foreign_key_check.
// Postgres enforces the constraints on write, so violations indicate either
// disabled triggers or external tampering.
var fkChecks = []struct {
	child, parent, query string
}{
	{"departement", "region", `
		SELECT d.code_departement FROM departement d
		LEFT JOIN region r ON d.code_region = r.code_region
		WHERE r.code_region IS NULL`},
	{"commune", "departement", `
		SELECT c.code_commune FROM commune c
		LEFT JOIN departement d ON c.code_departement = d.code_departement
		WHERE d.code_departement IS NULL`},
	{"cours_eau", "bassin", `
		SELECT w.code_cours_eau FROM cours_eau w
		LEFT JOIN bassin b ON w.code_bassin = b.code_bassin
		WHERE b.code_bassin IS NULL`},
	{"station", "commune", `
		SELECT s.code_station FROM station s
		LEFT JOIN commune c ON s.code_commune = c.code_commune
		WHERE c.code_commune IS NULL`},
	{"station", "cours_eau", `
		SELECT s.code_station FROM station s
		LEFT JOIN cours_eau w ON s.code_cours_eau = w.code_cours_eau
		WHERE w.code_cours_eau IS NULL`},
}

func (s *PostgresStore) CheckForeignKeys(ctx context.Context) ([]string, error) {
	var violations []string
	for _, check := range fkChecks {
		rows, err := s.db.QueryContext(ctx, check.query)
		if err != nil {
			return nil, fmt.Errorf("checking %s -> %s: %w", check.child, check.parent, err)
		}
		for rows.Next() {
			var code string
			if err := rows.Scan(&code); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning %s violation: %w", check.child, err)
			}
			violations = append(violations,
				fmt.Sprintf("%s %s references missing %s row", check.child, code, check.parent))
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return violations, nil
}

func (s *PostgresStore) CheckStructure(ctx context.Context) error {
	// No integrity_check equivalent; probe that every table is readable.
	for _, table := range Tables {
		var n int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return fmt.Errorf("probing %s: %w", table, err)
		}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
