// Package catalog is a client for the music-catalog Web API. It fetches
// artists, their album listings, and full album records with tracks,
// genres and artwork.
package catalog

import "strings"

// Artist is a full artist record.
type Artist struct {
	ID         string   `json:"id"` // catalog URI, e.g. spotify:artist:4Z8W4fKeB5YxbusRsdQVPb
	Name       string   `json:"name"`
	Genres     []string `json:"genres"`
	Popularity int      `json:"popularity"`
	Followers  int      `json:"followers"`
}

// SimpleArtist is the artist reference carried by a track.
type SimpleArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AlbumRef is a simplified album from an artist's album listing.
type AlbumRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AlbumType   string `json:"album_type"`
	ReleaseDate string `json:"release_date"`
}

// Album is a full album record with its tracks.
type Album struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	AlbumType   string   `json:"album_type"`
	ReleaseDate string   `json:"release_date"`
	Genres      []string `json:"genres"`
	Images      []Image  `json:"images"`
	Tracks      []Track  `json:"tracks"`
}

// Track is one album track. ID is empty for tracks the catalog cannot
// identify (local files); such tracks cannot be stored.
type Track struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	TrackNumber int            `json:"track_number"`
	DiscNumber  int            `json:"disc_number"`
	DurationMS  int            `json:"duration_ms"`
	Artists     []SimpleArtist `json:"artists"`
}

// Image is a piece of album artwork.
type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Page is one page of a paginated listing.
type Page[T any] struct {
	Items  []T
	Total  int
	Offset int
	Limit  int
	Next   bool
}

// BareID strips the "spotify:<kind>:" prefix from a catalog URI.
// Bare ids are returned unchanged.
func BareID(uri string) string {
	if i := strings.LastIndexByte(uri, ':'); i >= 0 {
		return uri[i+1:]
	}
	return uri
}
