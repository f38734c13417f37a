package hubeau

// StationRecord is one flat record from the /stations endpoint. Text fields
// are pointers so absent keys are distinguishable from present empty strings.
type StationRecord struct {
	CodeRegion         *string  `json:"code_region"`
	LibelleRegion      *string  `json:"libelle_region"`
	CodeDepartement    *string  `json:"code_departement"`
	LibelleDepartement *string  `json:"libelle_departement"`
	CodeCommune        *string  `json:"code_commune"`
	LibelleCommune     *string  `json:"libelle_commune"`
	CodeBassin         *string  `json:"code_bassin"`
	LibelleBassin      *string  `json:"libelle_bassin"`
	CodeCoursEau       *string  `json:"code_cours_eau"`
	LibelleCoursEau    *string  `json:"libelle_cours_eau"`
	URICoursEau        *string  `json:"uri_cours_eau"`
	CodeStation        *string  `json:"code_station"`
	LibelleStation     *string  `json:"libelle_station"`
	URIStation         *string  `json:"uri_station"`
	EtatStation        *string  `json:"etat_station"`
	DateMajStation     *string  `json:"date_maj_station"`
	Latitude           *float64 `json:"latitude"`
	Longitude          *float64 `json:"longitude"`
}

// stationFields is the fixed ordered field list requested from /stations.
var stationFields = []string{
	"code_region", "libelle_region",
	"code_departement", "libelle_departement",
	"code_commune", "libelle_commune",
	"code_bassin", "libelle_bassin",
	"code_cours_eau", "libelle_cours_eau", "uri_cours_eau",
	"code_station", "libelle_station", "uri_station",
	"etat_station", "date_maj_station",
	"latitude", "longitude",
}

// Observation is one visual flow observation from /observations.
type Observation struct {
	StationCode string `json:"code_station"`
	Date        string `json:"date_observation"`
	FlowCode    string `json:"code_ecoulement"`
	FlowLabel   string `json:"libelle_ecoulement"`
}

// Campaign is one observation campaign from /campagnes.
type Campaign struct {
	Code      int    `json:"code_campagne"`
	Date      string `json:"date_campagne"`
	TypeLabel string `json:"libelle_type_campagne"`
}

// envelope is the common response shape of the Hub'Eau APIs.
type envelope[T any] struct {
	Data []T `json:"data"`
}
