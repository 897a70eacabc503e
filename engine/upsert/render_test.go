package upsert

import (
	"fmt"
	"strings"
	"testing"

	"github.com/WessleyAI/collabgraph/engine/catalog"
)

// parseLiterals extracts every single-quoted string literal from a Cypher
// statement, decoding backslash escapes the way the Cypher parser does.
func parseLiterals(stmt string) ([]string, error) {
	var out []string
	for i := 0; i < len(stmt); i++ {
		if stmt[i] != '\'' {
			continue
		}
		var b strings.Builder
		i++
		for ; i < len(stmt) && stmt[i] != '\''; i++ {
			if stmt[i] != '\\' {
				b.WriteByte(stmt[i])
				continue
			}
			i++
			if i == len(stmt) {
				return nil, fmt.Errorf("dangling escape")
			}
			switch stmt[i] {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case '\\', '\'', '"':
				b.WriteByte(stmt[i])
			default:
				return nil, fmt.Errorf("unknown escape \\%c", stmt[i])
			}
		}
		if i == len(stmt) {
			return nil, fmt.Errorf("unterminated literal in %q", stmt)
		}
		out = append(out, b.String())
	}
	return out, nil
}

func TestQuote(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", `'plain'`},
		{"Guns N' Roses", `'Guns N\' Roses'`},
		{`back\slash`, `'back\\slash'`},
		{`\'`, `'\\\''`},
		{"two\nlines", `'two\nlines'`},
		{"", `''`},
	}
	for _, tt := range tests {
		if got := Quote(tt.in); got != tt.want {
			t.Errorf("Quote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestRenderRoundTripsDelimiters(t *testing.T) {
	names := []string{
		"Guns N' Roses",
		"'",
		"''",
		`\`,
		`ends with backslash\`,
		`\' ; MATCH (n) DETACH DELETE n //`,
		"tab\tand\nnewline",
		`Sigur Rós "Ágætis byrjun"`,
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			a := catalog.Artist{ID: "spotify:artist:" + name, Name: name, Genres: []string{name}}
			albums := []catalog.Album{{
				ID: "spotify:album:x", Name: name,
				Images: []catalog.Image{{URL: "https://i/" + name}},
				Tracks: []catalog.Track{{ID: "spotify:track:x", Name: name, Artists: []catalog.SimpleArtist{{ID: "c", Name: name}}}},
			}}
			for _, op := range Compile(a, albums).Ops {
				stmt := op.Render()
				if strings.Contains(stmt, "$") {
					t.Fatalf("%s: unbound parameter in %s", op.Kind, stmt)
				}
				lits, err := parseLiterals(stmt)
				if err != nil {
					t.Fatalf("%s: %v", op.Kind, err)
				}
				var want []string
				for _, p := range paramOrder(op.Cypher) {
					if s, ok := op.Params[p].(string); ok {
						want = append(want, s)
					}
				}
				if strings.Join(lits, "\x00") != strings.Join(want, "\x00") {
					t.Errorf("%s: literals %q, want %q", op.Kind, lits, want)
				}
			}
		})
	}
}

// paramOrder lists $parameters in the order they appear.
func paramOrder(cypher string) []string {
	var names []string
	for i := 0; i < len(cypher); i++ {
		if cypher[i] != '$' {
			continue
		}
		j := i + 1
		for j < len(cypher) && isParamByte(cypher[j]) {
			j++
		}
		names = append(names, cypher[i+1:j])
		i = j - 1
	}
	return names
}

func TestRenderLiterals(t *testing.T) {
	op := Op{
		Cypher: "RETURN $s, $i, $n, $b, $l, $missing",
		Params: map[string]any{"s": "x", "i": int64(42), "n": nil, "b": true, "l": []string{"a", "b'"}},
	}
	want := `RETURN 'x', 42, null, true, ['a', 'b\''], $missing`
	if got := op.Render(); got != want {
		t.Errorf("Render() = %s, want %s", got, want)
	}
}
