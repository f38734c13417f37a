package importer

import (
	"strings"

	"github.com/jmoreau/hydrod/internal/hubeau"
	"github.com/jmoreau/hydrod/internal/store"
)

// Entities are the typed sub-records extracted from one flat API record.
// A nil field means the record did not carry enough data for that entity;
// the entity is simply not written, so partial records still contribute
// their valid geography rows.
type Entities struct {
	Region      *store.Region
	Department  *store.Department
	Commune     *store.Commune
	Basin       *store.Basin
	Watercourse *store.Watercourse
	Station     *store.Station
}

// Skip explains why a record's station was not emitted.
type Skip struct {
	Code   string
	Reason string
}

// Normalize maps one flat station record to its typed sub-entities.
// Empty-string field values are treated as absent. The station is emitted
// only when its commune and cours_eau entities were themselves emitted and
// both coordinates are non-null and in range; otherwise a Skip describes the
// rejection while the valid parent entities are still emitted. Pure function;
// no I/O.
func Normalize(rec hubeau.StationRecord) (Entities, *Skip) {
	var e Entities

	codeRegion := coalesce(rec.CodeRegion)
	libelleRegion := coalesce(rec.LibelleRegion)
	codeDepartement := coalesce(rec.CodeDepartement)
	codeCommune := coalesce(rec.CodeCommune)
	codeBassin := coalesce(rec.CodeBassin)
	libelleBassin := coalesce(rec.LibelleBassin)
	codeCoursEau := coalesce(rec.CodeCoursEau)

	if codeRegion != "" && libelleRegion != "" {
		e.Region = &store.Region{Code: codeRegion, Label: libelleRegion}
	}
	if codeDepartement != "" && codeRegion != "" {
		e.Department = &store.Department{
			Code:       codeDepartement,
			Label:      coalesce(rec.LibelleDepartement),
			RegionCode: codeRegion,
		}
	}
	if codeCommune != "" && codeDepartement != "" {
		e.Commune = &store.Commune{
			Code:           codeCommune,
			Label:          coalesce(rec.LibelleCommune),
			DepartmentCode: codeDepartement,
		}
	}
	if codeBassin != "" && libelleBassin != "" {
		e.Basin = &store.Basin{Code: codeBassin, Label: libelleBassin}
	}
	if codeCoursEau != "" && codeBassin != "" {
		e.Watercourse = &store.Watercourse{
			Code:      codeCoursEau,
			Label:     coalesce(rec.LibelleCoursEau),
			URI:       coalesce(rec.URICoursEau),
			BasinCode: codeBassin,
		}
	}

	code := CanonicalStationCode(coalesce(rec.CodeStation))
	if code == "" {
		return e, &Skip{Reason: "missing code_station"}
	}
	if codeCommune == "" {
		return e, &Skip{Code: code, Reason: "missing code_commune"}
	}
	if codeCoursEau == "" {
		return e, &Skip{Code: code, Reason: "missing code_cours_eau"}
	}
	// The leaf codes alone are not enough: a station row needs its commune and
	// cours_eau rows to actually exist, which in turn need their own parents.
	// A dangling chain is a validation skip, not a store error.
	if e.Commune == nil {
		return e, &Skip{Code: code, Reason: "missing code_departement"}
	}
	if e.Watercourse == nil {
		return e, &Skip{Code: code, Reason: "missing code_bassin"}
	}
	if rec.Latitude == nil || rec.Longitude == nil {
		return e, &Skip{Code: code, Reason: "missing coordinates"}
	}
	if *rec.Latitude < -90 || *rec.Latitude > 90 {
		return e, &Skip{Code: code, Reason: "latitude out of range"}
	}
	if *rec.Longitude < -180 || *rec.Longitude > 180 {
		return e, &Skip{Code: code, Reason: "longitude out of range"}
	}

	e.Station = &store.Station{
		Code:            code,
		Label:           coalesce(rec.LibelleStation),
		URI:             coalesce(rec.URIStation),
		Status:          coalesce(rec.EtatStation),
		UpdatedAt:       coalesce(rec.DateMajStation),
		Latitude:        *rec.Latitude,
		Longitude:       *rec.Longitude,
		CommuneCode:     codeCommune,
		WatercourseCode: codeCoursEau,
	}
	return e, nil
}

// CanonicalStationCode strips all whitespace from a station code. Source
// records occasionally carry embedded blanks; the canonical stored form has
// none.
func CanonicalStationCode(code string) string {
	return strings.Join(strings.Fields(code), "")
}

// coalesce turns a nil or empty-string field into "".
func coalesce(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
