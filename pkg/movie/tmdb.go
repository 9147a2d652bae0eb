package movie

// DiscoverPage is one page of the /discover/movie listing.
type DiscoverPage struct {
	Page         int       `json:"page"`
	Results      []Summary `json:"results"`
	TotalPages   int       `json:"total_pages"`
	TotalResults int       `json:"total_results"`
}

// Summary is a listing entry. Only the id is needed to request details.
type Summary struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	ReleaseDate string `json:"release_date"`
}

// Named is the {id, name} shape used for genres and production companies.
type Named struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Details is the /movie/{id} payload. Pointer fields distinguish a missing or
// null value from a zero value.
type Details struct {
	ID                  int64   `json:"id"`
	Title               string  `json:"title"`
	Overview            string  `json:"overview"`
	ReleaseDate         string  `json:"release_date"`
	Runtime             *int    `json:"runtime"`
	Genres              []Named `json:"genres"`
	ProductionCompanies []Named `json:"production_companies"`
	Budget              int64   `json:"budget"`
	Revenue             int64   `json:"revenue"`
	Popularity          float64 `json:"popularity"`
	VoteAverage         float64 `json:"vote_average"`
	VoteCount           int64   `json:"vote_count"`
	Status              string  `json:"status"`
	PosterPath          *string `json:"poster_path"`
	BackdropPath        *string `json:"backdrop_path"`
	OriginalLanguage    *string `json:"original_language"`
	Adult               bool    `json:"adult"`
}

// Payload is one raw detail response as returned by the upstream API.
type Payload struct {
	ID   int64
	Body []byte
}
