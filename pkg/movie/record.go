// Package movie defines the canonical movie record and the raw TMDb payload
// shapes it is built from.
package movie

import (
	"strconv"
	"strings"
)

// Columns is the staging file header. Order matches the warehouse schema and
// must not change without updating the load schema.
var Columns = []string{
	"id",
	"title",
	"overview",
	"release_date",
	"runtime",
	"genres",
	"production_companies",
	"budget",
	"revenue",
	"popularity",
	"vote_average",
	"vote_count",
	"status",
	"poster_path",
	"backdrop_path",
	"language",
}

// NameSeparator joins genre and company names into a single text column.
const NameSeparator = ", "

// Record is one validated movie row.
//
// Optional text columns (Runtime, PosterURL, BackdropURL) use the empty string
// for "absent"; they are written as empty CSV fields and JSON nulls.
type Record struct {
	ID                  int64
	Title               string
	Overview            string
	ReleaseDate         string // YYYY-MM-DD
	Runtime             string // "<N> minutes"
	Genres              []string
	ProductionCompanies []string
	Budget              int64
	Revenue             int64
	Popularity          float64
	VoteAverage         float64
	VoteCount           int64
	Status              string
	PosterURL           string
	BackdropURL         string
	Language            string
}

// GenresText returns the genre names joined with NameSeparator.
func (r Record) GenresText() string {
	return strings.Join(r.Genres, NameSeparator)
}

// CompaniesText returns the production company names joined with NameSeparator.
func (r Record) CompaniesText() string {
	return strings.Join(r.ProductionCompanies, NameSeparator)
}

// Row renders the record as staging file fields in Columns order.
func (r Record) Row() []string {
	return []string{
		strconv.FormatInt(r.ID, 10),
		r.Title,
		r.Overview,
		r.ReleaseDate,
		r.Runtime,
		r.GenresText(),
		r.CompaniesText(),
		strconv.FormatInt(r.Budget, 10),
		strconv.FormatInt(r.Revenue, 10),
		strconv.FormatFloat(r.Popularity, 'f', -1, 64),
		strconv.FormatFloat(r.VoteAverage, 'f', -1, 64),
		strconv.FormatInt(r.VoteCount, 10),
		r.Status,
		r.PosterURL,
		r.BackdropURL,
		r.Language,
	}
}

// Row is the column-keyed form used for newline-delimited JSON loads.
type Row struct {
	ID                  int64   `json:"id"`
	Title               string  `json:"title"`
	Overview            *string `json:"overview"`
	ReleaseDate         *string `json:"release_date"`
	Runtime             *string `json:"runtime"`
	Genres              *string `json:"genres"`
	ProductionCompanies *string `json:"production_companies"`
	Budget              int64   `json:"budget"`
	Revenue             int64   `json:"revenue"`
	Popularity          float64 `json:"popularity"`
	VoteAverage         float64 `json:"vote_average"`
	VoteCount           int64   `json:"vote_count"`
	Status              *string `json:"status"`
	PosterPath          *string `json:"poster_path"`
	BackdropPath        *string `json:"backdrop_path"`
	Language            *string `json:"language"`
}

// JSONRow converts the record into its load row, mapping empty text to null.
func (r Record) JSONRow() Row {
	return Row{
		ID:                  r.ID,
		Title:               r.Title,
		Overview:            nullable(r.Overview),
		ReleaseDate:         nullable(r.ReleaseDate),
		Runtime:             nullable(r.Runtime),
		Genres:              nullable(r.GenresText()),
		ProductionCompanies: nullable(r.CompaniesText()),
		Budget:              r.Budget,
		Revenue:             r.Revenue,
		Popularity:          r.Popularity,
		VoteAverage:         r.VoteAverage,
		VoteCount:           r.VoteCount,
		Status:              nullable(r.Status),
		PosterPath:          nullable(r.PosterURL),
		BackdropPath:        nullable(r.BackdropURL),
		Language:            nullable(r.Language),
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
