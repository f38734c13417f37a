package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore implements Store backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens a SQLite database, sets file permissions, and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	dir := filepath.Dir(dsn)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	// Set pragmas for performance and safety.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}

	if err := os.Chmod(dsn, 0600); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("setting file permissions: %w", err)
	}

	// Run migrations.
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying database connection for migration commands.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) BeginImport(ctx context.Context) (ImportSession, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning import transaction: %w", err)
	}
	return &sqliteSession{tx: tx}, nil
}

type sqliteSession struct {
	tx *sql.Tx
}

func (s *sqliteSession) UpsertRegion(ctx context.Context, r Region) error {
	_, err := s.tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO region (code_region, libelle_region)
		VALUES (?, ?)`, r.Code, r.Label)
	if err != nil {
		return fmt.Errorf("upserting region %s: %w", r.Code, err)
	}
	return nil
}

func (s *sqliteSession) UpsertDepartment(ctx context.Context, d Department) error {
	_, err := s.tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO departement (code_departement, libelle_departement, code_region)
		VALUES (?, ?, ?)`, d.Code, d.Label, d.RegionCode)
	if err != nil {
		return fmt.Errorf("upserting departement %s: %w", d.Code, err)
	}
	return nil
}

func (s *sqliteSession) UpsertCommune(ctx context.Context, c Commune) error {
	_, err := s.tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO commune (code_commune, libelle_commune, code_departement)
		VALUES (?, ?, ?)`, c.Code, c.Label, c.DepartmentCode)
	if err != nil {
		return fmt.Errorf("upserting commune %s: %w", c.Code, err)
	}
	return nil
}

func (s *sqliteSession) UpsertBasin(ctx context.Context, b Basin) error {
	_, err := s.tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO bassin (code_bassin, libelle_bassin)
		VALUES (?, ?)`, b.Code, b.Label)
	if err != nil {
		return fmt.Errorf("upserting bassin %s: %w", b.Code, err)
	}
	return nil
}

func (s *sqliteSession) UpsertWatercourse(ctx context.Context, w Watercourse) error {
	_, err := s.tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO cours_eau (code_cours_eau, libelle_cours_eau, uri_cours_eau, code_bassin)
		VALUES (?, ?, ?, ?)`, w.Code, w.Label, w.URI, w.BasinCode)
	if err != nil {
		return fmt.Errorf("upserting cours_eau %s: %w", w.Code, err)
	}
	return nil
}

func (s *sqliteSession) UpsertStation(ctx context.Context, st Station) error {
	_, err := s.tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO station (
			code_station, libelle_station, uri_station,
			etat_station, date_maj_station,
			latitude, longitude,
			code_commune, code_cours_eau
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.Code, st.Label, st.URI,
		st.Status, st.UpdatedAt,
		st.Latitude, st.Longitude,
		st.CommuneCode, st.WatercourseCode)
	if err != nil {
		return fmt.Errorf("upserting station %s: %w", st.Code, err)
	}
	return nil
}

func (s *sqliteSession) Commit() error {
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("committing import transaction: %w", err)
	}
	return nil
}

func (s *sqliteSession) Rollback() error {
	return s.tx.Rollback()
}

func (s *SQLiteStore) ListRegions(ctx context.Context) ([]Region, error) {
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

func (s *SQLiteStore) GetRegion(ctx context.Context, code string) (*Region, error) {
	var r Region
	err := s.db.QueryRowContext(ctx, `
		SELECT code_region, libelle_region
		FROM region WHERE code_region = ?`, code).Scan(&r.Code, &r.Label)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting region %s: %w", code, err)
	}
	return &r, nil
}

func (s *SQLiteStore) GetDepartment(ctx context.Context, code string) (*Department, error) {
	var d Department
	err := s.db.QueryRowContext(ctx, `
		SELECT code_departement, libelle_departement, code_region
		FROM departement WHERE code_departement = ?`, code).Scan(
		&d.Code, &d.Label, &d.RegionCode)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting departement %s: %w", code, err)
	}
	return &d, nil
}

func (s *SQLiteStore) ListDepartments(ctx context.Context, regionCode string) ([]Department, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code_departement, libelle_departement, code_region
		FROM departement
		WHERE code_region = ?
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

func (s *SQLiteStore) ListCommunes(ctx context.Context, departmentCode string, limit int) ([]Commune, error) {
	if limit <= 0 {
		limit = -1 // SQLite: negative LIMIT disables the cap.
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT code_commune, libelle_commune, code_departement
		FROM commune
		WHERE code_departement = ?
		ORDER BY libelle_commune
		LIMIT ?`, departmentCode, limit)
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

func (s *SQLiteStore) ListStations(ctx context.Context, f StationFilter) ([]StationSummary, error) {
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
		WHERE (? = '' OR r.libelle_region = ?)
		  AND (? = '' OR d.libelle_departement = ?)
		  AND (? = ''
		       OR instr(lower(s.libelle_station), ?) > 0
		       OR instr(lower(s.code_station), ?) > 0)
		ORDER BY s.libelle_station`,
		f.RegionLabel, f.RegionLabel,
		f.DepartmentLabel, f.DepartmentLabel,
		search, search, search)
	if err != nil {
		return nil, fmt.Errorf("listing stations: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	return scanStationSummaries(rows)
}

func (s *SQLiteStore) GetStation(ctx context.Context, code string) (*StationDetail, error) {
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
		WHERE REPLACE(s.code_station, ' ', '') = ?`, canonical).Scan(
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

func (s *SQLiteStore) TableCounts(ctx context.Context) (map[string]int, error) {
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

func (s *SQLiteStore) CheckForeignKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return nil, fmt.Errorf("running foreign_key_check: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var violations []string
	for rows.Next() {
		var table, parent string
		var rowid, fkid sql.NullInt64
		if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return nil, fmt.Errorf("scanning foreign_key_check row: %w", err)
		}
		violations = append(violations,
			fmt.Sprintf("%s rowid %d references missing %s row", table, rowid.Int64, parent))
	}
	return violations, rows.Err()
}

func (s *SQLiteStore) CheckStructure(ctx context.Context) error {
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("running integrity_check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity_check reported: %s", result)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Shared helpers ---

// canonicalCode strips all whitespace (spaces, tabs, NBSP) from a station
// code, the same canonical form the import pipeline stores.
func canonicalCode(code string) string {
	return strings.Join(strings.Fields(code), "")
}

func scanStationSummaries(rows *sql.Rows) ([]StationSummary, error) {
	var result []StationSummary
	for rows.Next() {
		var st StationSummary
		if err := rows.Scan(
			&st.Code, &st.Label, &st.Latitude, &st.Longitude,
			&st.CommuneLabel, &st.DepartmentLabel, &st.RegionLabel,
			&st.WatercourseLabel,
		); err != nil {
			return nil, fmt.Errorf("scanning station: %w", err)
		}
		result = append(result, st)
	}
	return result, rows.Err()
}
