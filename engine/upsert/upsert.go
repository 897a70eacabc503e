// Package upsert compiles an artist's discography into an ordered list of
// idempotent Cypher MERGE statements.
//
// Every statement merges each node it touches by its natural key before it
// merges any relationship, so a statement never depends on an earlier one
// having run in the same transaction. Values are always bound as parameters.
package upsert

import (
	"errors"
	"fmt"

	"github.com/WessleyAI/collabgraph/engine/catalog"
)

// Kind names the shape of an upsert statement.
type Kind string

const (
	KindArtist      Kind = "artist"
	KindArtistGenre Kind = "artist_genre"
	KindAlbum       Kind = "album"
	KindAlbumGenre  Kind = "album_genre"
	KindAlbumImage  Kind = "album_image"
	KindTrack       Kind = "track"
)

// Op is one parameterized upsert statement.
type Op struct {
	Kind   Kind
	Cypher string
	Params map[string]any
}

// Batch is the compiled output for one artist.
type Batch struct {
	Ops []Op
	// Malformed lists entities that were skipped because they lack a key.
	Malformed []error
}

// ErrMalformedEntity marks an entity that cannot be upserted.
var ErrMalformedEntity = errors.New("malformed entity")

// MalformedError describes a skipped entity.
type MalformedError struct {
	Kind   string // "artist", "album", "track", "contributor", "genre", "image"
	Name   string
	Parent string // id of the enclosing album or artist, if any
}

func (e *MalformedError) Error() string {
	if e.Parent != "" {
		return fmt.Sprintf("%s: %s %q in %s has no identifier", ErrMalformedEntity, e.Kind, e.Name, e.Parent)
	}
	return fmt.Sprintf("%s: %s %q has no identifier", ErrMalformedEntity, e.Kind, e.Name)
}

func (e *MalformedError) Unwrap() error { return ErrMalformedEntity }

const (
	cypherArtist = `MERGE (artist:Artist {uri: $artist_uri})
SET artist.name = $artist_name, artist.popularity = $artist_popularity, artist.followers = $artist_followers`

	cypherArtistGenre = `MERGE (artist:Artist {uri: $artist_uri})
SET artist.name = $artist_name
MERGE (genre:Genre {name: $genre})
MERGE (artist)-[:HAS_GENRE]->(genre)`

	cypherAlbum = `MERGE (artist:Artist {uri: $artist_uri})
SET artist.name = $artist_name
MERGE (album:Album {uri: $album_uri})
SET album.name = $album_name, album.album_type = $album_type, album.release_date = $album_release_date
MERGE (artist)-[:RELEASED]->(album)`

	cypherAlbumGenre = `MERGE (album:Album {uri: $album_uri})
SET album.name = $album_name
MERGE (genre:Genre {name: $genre})
MERGE (album)-[:HAS_GENRE]->(genre)`

	cypherAlbumImage = `MERGE (album:Album {uri: $album_uri})
SET album.name = $album_name
MERGE (image:Image {url: $image_url})
SET image.width = $image_width, image.height = $image_height
MERGE (album)-[:HAS_ARTWORK]->(image)`

	cypherTrack = `MERGE (artist:Artist {uri: $artist_uri})
SET artist.name = $artist_name
MERGE (album:Album {uri: $album_uri})
SET album.name = $album_name
MERGE (track:Track {uri: $track_uri})
SET track.name = $track_name, track.track_number = $track_number, track.disc_number = $disc_number, track.duration_ms = $duration_ms
MERGE (artist)-[:WROTE]->(track)
MERGE (album)-[:CONTAINS]->(track)`
)

// Compile turns an artist and its full albums into upsert statements in a
// fixed order: the artist, its genres, then per album the release edge, the
// album genres, the artwork, and one statement per track per contributing
// artist. Entities without a key are reported in Batch.Malformed and only
// their own statements are skipped.
func Compile(artist catalog.Artist, albums []catalog.Album) Batch {
	var b Batch
	if artist.ID == "" {
		b.Malformed = append(b.Malformed, &MalformedError{Kind: "artist", Name: artist.Name})
		return b
	}

	b.add(KindArtist, cypherArtist, map[string]any{
		"artist_uri":        artist.ID,
		"artist_name":       artist.Name,
		"artist_popularity": int64(artist.Popularity),
		"artist_followers":  int64(artist.Followers),
	})

	for _, g := range distinct(artist.Genres) {
		if g == "" {
			b.Malformed = append(b.Malformed, &MalformedError{Kind: "genre", Parent: artist.ID})
			continue
		}
		b.add(KindArtistGenre, cypherArtistGenre, map[string]any{
			"artist_uri":  artist.ID,
			"artist_name": artist.Name,
			"genre":       g,
		})
	}

	for _, album := range albums {
		b.compileAlbum(artist, album)
	}
	return b
}

func (b *Batch) compileAlbum(artist catalog.Artist, album catalog.Album) {
	if album.ID == "" {
		b.Malformed = append(b.Malformed, &MalformedError{Kind: "album", Name: album.Name, Parent: artist.ID})
		return
	}

	b.add(KindAlbum, cypherAlbum, map[string]any{
		"artist_uri":         artist.ID,
		"artist_name":        artist.Name,
		"album_uri":          album.ID,
		"album_name":         album.Name,
		"album_type":         album.AlbumType,
		"album_release_date": album.ReleaseDate,
	})

	for _, g := range distinct(album.Genres) {
		if g == "" {
			b.Malformed = append(b.Malformed, &MalformedError{Kind: "genre", Parent: album.ID})
			continue
		}
		b.add(KindAlbumGenre, cypherAlbumGenre, map[string]any{
			"album_uri":  album.ID,
			"album_name": album.Name,
			"genre":      g,
		})
	}

	seen := make(map[string]struct{}, len(album.Images))
	for _, img := range album.Images {
		if img.URL == "" {
			b.Malformed = append(b.Malformed, &MalformedError{Kind: "image", Parent: album.ID})
			continue
		}
		if _, dup := seen[img.URL]; dup {
			continue
		}
		seen[img.URL] = struct{}{}
		b.add(KindAlbumImage, cypherAlbumImage, map[string]any{
			"album_uri":    album.ID,
			"album_name":   album.Name,
			"image_url":    img.URL,
			"image_width":  int64(img.Width),
			"image_height": int64(img.Height),
		})
	}

	for _, track := range album.Tracks {
		if track.ID == "" {
			b.Malformed = append(b.Malformed, &MalformedError{Kind: "track", Name: track.Name, Parent: album.ID})
			continue
		}
		for _, contributor := range track.Artists {
			if contributor.ID == "" {
				b.Malformed = append(b.Malformed, &MalformedError{Kind: "contributor", Name: contributor.Name, Parent: track.ID})
				continue
			}
			b.add(KindTrack, cypherTrack, map[string]any{
				"artist_uri":   contributor.ID,
				"artist_name":  contributor.Name,
				"album_uri":    album.ID,
				"album_name":   album.Name,
				"track_uri":    track.ID,
				"track_name":   track.Name,
				"track_number": int64(track.TrackNumber),
				"disc_number":  int64(track.DiscNumber),
				"duration_ms":  int64(track.DurationMS),
			})
		}
	}
}

func (b *Batch) add(kind Kind, cypher string, params map[string]any) {
	b.Ops = append(b.Ops, Op{Kind: kind, Cypher: cypher, Params: params})
}

// distinct returns values in first-seen order without duplicates.
func distinct(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
