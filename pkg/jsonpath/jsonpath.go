// Package jsonpath evaluates a practical JSONPath subset against JSON text.
//
// Supported: $ root, dotted members, ['quoted'] members, [n] indexes and [*]
// wildcards. Evaluation is delegated to gjson.
package jsonpath

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrInvalidJSON is returned when the document is not valid JSON
	ErrInvalidJSON = errors.New("invalid JSON")

	// ErrNotFound is returned when the path selects nothing
	ErrNotFound = errors.New("path not found")
)

// Valid reports whether json is a well-formed JSON document
func Valid(json string) bool {
	return gjson.Valid(json)
}

// Extract returns the first value selected by path. Strings are returned
// unquoted, other values as raw JSON.
func Extract(json string, path string) (string, error) {
	values, err := ExtractAll(json, path)
	if err != nil {
		return "", err
	}
	return values[0], nil
}

// ExtractAll returns every value selected by path in document order
func ExtractAll(json string, path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("empty JSONPath expression")
	}
	if !gjson.Valid(json) {
		return nil, ErrInvalidJSON
	}

	gpath := ConvertPath(path)
	result := gjson.Get(json, gpath)
	if !result.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	var values []string
	flatten(result, strings.Count(gpath, "#"), &values)
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return values, nil
}

// ExtractMultiple extracts the first value for each named path
func ExtractMultiple(json string, paths map[string]string) (map[string]string, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no JSONPath expressions provided")
	}

	results := make(map[string]string, len(paths))
	var errs []error
	for name, path := range paths {
		value, err := Extract(json, path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		results[name] = value
	}

	return results, errors.Join(errs...)
}

// flatten unwraps one array level per wildcard in the path
func flatten(r gjson.Result, depth int, out *[]string) {
	if depth > 0 && r.IsArray() {
		r.ForEach(func(_, v gjson.Result) bool {
			flatten(v, depth-1, out)
			return true
		})
		return
	}
	*out = append(*out, stringify(r))
}

func stringify(r gjson.Result) string {
	switch r.Type {
	case gjson.Null:
		return "null"
	case gjson.String:
		return r.Str
	case gjson.JSON:
		return r.Raw
	default:
		return r.String()
	}
}

// ConvertPath converts a JSONPath expression to gjson syntax.
//
//	$                -> @this
//	$.users[0].name  -> users.0.name
//	$['a.b'].c       -> a\.b.c
//	$.items[*].id    -> items.#.id
func ConvertPath(path string) string {
	path = strings.TrimPrefix(strings.TrimSpace(path), "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	var b strings.Builder
	for i := 0; i < len(path); {
		c := path[i]
		if c != '[' {
			b.WriteByte(c)
			i++
			continue
		}

		end := strings.IndexByte(path[i:], ']')
		if end < 0 {
			b.WriteString(path[i:])
			break
		}
		content := path[i+1 : i+end]
		i += end + 1

		if b.Len() > 0 {
			b.WriteByte('.')
		}
		switch {
		case content == "*":
			b.WriteByte('#')
		case len(content) >= 2 && (content[0] == '\'' || content[0] == '"') && content[len(content)-1] == content[0]:
			b.WriteString(escapeKey(content[1 : len(content)-1]))
		default:
			b.WriteString(content)
		}
	}
	return b.String()
}

func escapeKey(key string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "#", `\#`, "|", `\|`)
	return r.Replace(key)
}
