// Package snapshot decodes the nested creative-asset blob attached to each
// scraped ad record and extracts candidate media URLs from it.
//
// The provider serializes snapshots inconsistently: the same field may arrive
// as a JSON object, as a JSON-encoded string, or as a map literal using
// single-quoted keys and True/False/None constants. Parse tolerates all of
// these.
package snapshot

import (
	"encoding/json"
	"errors"
	"strings"
)

// Snapshot is the decoded key-value structure of one entity's creative assets.
type Snapshot map[string]interface{}

// ErrUnparsable is returned when none of the decode strategies produce a
// key-value map. Callers treat it as "record has no media", never as fatal.
var ErrUnparsable = errors.New("snapshot is not decodable by any strategy")

// Parse decodes a raw snapshot string. It attempts, in order:
//
//  1. the provider's map-literal dialect, translated to JSON
//  2. strict JSON
//  3. a crude repair pass replacing single quotes with double quotes
//
// The first strategy that yields a key-value map wins. Parse has no ambient
// state; the same input always produces the same output.
func Parse(raw string) (Snapshot, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, ErrUnparsable
	}

	if snap, err := decodeMap(translateLiteral(trimmed)); err == nil {
		return snap, nil
	}
	if snap, err := decodeMap(trimmed); err == nil {
		return snap, nil
	}
	if snap, err := decodeMap(strings.ReplaceAll(trimmed, "'", `"`)); err == nil {
		return snap, nil
	}
	return nil, ErrUnparsable
}

// decodeMap decodes s as JSON and requires the top level to be an object.
func decodeMap(s string) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal([]byte(s), &snap); err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, ErrUnparsable
	}
	return snap, nil
}

// translateLiteral rewrites the provider's map-literal dialect into JSON:
// single-quoted strings become double-quoted (escaping embedded double
// quotes), and the bare constants True/False/None become their JSON
// equivalents. Double-quoted strings pass through untouched so valid JSON
// survives translation.
func translateLiteral(s string) string {
	var out strings.Builder
	out.Grow(len(s))

	i := 0
	for i < len(s) {
		c := s[i]
		switch c {
		case '\'':
			i = translateSingleQuoted(s, i, &out)
		case '"':
			i = copyDoubleQuoted(s, i, &out)
		default:
			if isIdentStart(c) {
				start := i
				for i < len(s) && isIdentChar(s[i]) {
					i++
				}
				switch word := s[start:i]; word {
				case "True":
					out.WriteString("true")
				case "False":
					out.WriteString("false")
				case "None":
					out.WriteString("null")
				default:
					out.WriteString(word)
				}
			} else {
				out.WriteByte(c)
				i++
			}
		}
	}
	return out.String()
}

// translateSingleQuoted consumes a single-quoted string starting at s[i] and
// writes the double-quoted JSON equivalent. Returns the index after the
// closing quote.
func translateSingleQuoted(s string, i int, out *strings.Builder) int {
	out.WriteByte('"')
	i++ // opening quote
	for i < len(s) {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			next := s[i+1]
			if next == '\'' {
				// Escaped single quote needs no escape in JSON.
				out.WriteByte('\'')
			} else {
				out.WriteByte('\\')
				out.WriteByte(next)
			}
			i += 2
			continue
		}
		if c == '\'' {
			i++ // closing quote
			break
		}
		if c == '"' {
			out.WriteString(`\"`)
			i++
			continue
		}
		out.WriteByte(c)
		i++
	}
	out.WriteByte('"')
	return i
}

// copyDoubleQuoted copies a double-quoted string verbatim, honoring escapes.
// Returns the index after the closing quote.
func copyDoubleQuoted(s string, i int, out *strings.Builder) int {
	out.WriteByte('"')
	i++
	for i < len(s) {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			out.WriteByte(c)
			out.WriteByte(s[i+1])
			i += 2
			continue
		}
		out.WriteByte(c)
		i++
		if c == '"' {
			break
		}
	}
	return i
}

func isIdentStart(c byte) bool {
	return c == 'T' || c == 'F' || c == 'N'
}

func isIdentChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
