package catalog

// Web API JSON response types.

type wireArtist struct {
	ID         string   `json:"id"`
	URI        string   `json:"uri"`
	Name       string   `json:"name"`
	Genres     []string `json:"genres"`
	Popularity int      `json:"popularity"`
	Followers  struct {
		Total int `json:"total"`
	} `json:"followers"`
}

type wireSimpleArtist struct {
	ID   *string `json:"id"`
	URI  string  `json:"uri"`
	Name string  `json:"name"`
}

type wireAlbumRef struct {
	ID          string `json:"id"`
	URI         string `json:"uri"`
	Name        string `json:"name"`
	AlbumType   string `json:"album_type"`
	ReleaseDate string `json:"release_date"`
}

type wireTrack struct {
	ID          *string            `json:"id"`
	URI         string             `json:"uri"`
	Name        string             `json:"name"`
	TrackNumber int                `json:"track_number"`
	DiscNumber  int                `json:"disc_number"`
	DurationMS  int                `json:"duration_ms"`
	Artists     []wireSimpleArtist `json:"artists"`
}

type wirePaging[T any] struct {
	Items  []T     `json:"items"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
	Next   *string `json:"next"`
}

type wireAlbum struct {
	ID          string                `json:"id"`
	URI         string                `json:"uri"`
	Name        string                `json:"name"`
	AlbumType   string                `json:"album_type"`
	ReleaseDate string                `json:"release_date"`
	Genres      []string              `json:"genres"`
	Images      []Image               `json:"images"`
	Tracks      wirePaging[wireTrack] `json:"tracks"`
}

// uriOr prefers the URI, falling back to the bare id.
func uriOr(uri, id string) string {
	if uri != "" {
		return uri
	}
	return id
}

func (w wireArtist) toArtist() Artist {
	return Artist{
		ID:         uriOr(w.URI, w.ID),
		Name:       w.Name,
		Genres:     w.Genres,
		Popularity: w.Popularity,
		Followers:  w.Followers.Total,
	}
}

func (w wireSimpleArtist) toSimpleArtist() SimpleArtist {
	a := SimpleArtist{Name: w.Name}
	if w.ID != nil && *w.ID != "" {
		a.ID = uriOr(w.URI, *w.ID)
	}
	return a
}

func (w wireAlbumRef) toAlbumRef() AlbumRef {
	return AlbumRef{
		ID:          uriOr(w.URI, w.ID),
		Name:        w.Name,
		AlbumType:   w.AlbumType,
		ReleaseDate: w.ReleaseDate,
	}
}

func (w wireTrack) toTrack() Track {
	t := Track{
		Name:        w.Name,
		TrackNumber: w.TrackNumber,
		DiscNumber:  w.DiscNumber,
		DurationMS:  w.DurationMS,
		Artists:     make([]SimpleArtist, len(w.Artists)),
	}
	// Local files carry a spotify:local: URI but a null id.
	if w.ID != nil && *w.ID != "" {
		t.ID = uriOr(w.URI, *w.ID)
	}
	for i, a := range w.Artists {
		t.Artists[i] = a.toSimpleArtist()
	}
	return t
}

func (w wireAlbum) toAlbum() Album {
	a := Album{
		ID:          uriOr(w.URI, w.ID),
		Name:        w.Name,
		AlbumType:   w.AlbumType,
		ReleaseDate: w.ReleaseDate,
		Genres:      w.Genres,
		Images:      w.Images,
		Tracks:      make([]Track, 0, len(w.Tracks.Items)),
	}
	for _, t := range w.Tracks.Items {
		a.Tracks = append(a.Tracks, t.toTrack())
	}
	return a
}
