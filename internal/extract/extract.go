package extract

import (
	"net/http"
	"sort"
	"strings"

	"github.com/wesleyorama2/vurun/pkg/jsonpath"
)

// Document is one response in a redirect chain
type Document struct {
	Headers http.Header
	Body    string
}

// Source is everything an extractor may scan: the intermediate redirect
// responses in chain order and the final response.
type Source struct {
	Redirects []Document
	Final     Document
}

// Value is an extraction result: a single string, a list, or null
type Value struct {
	values []string
	multi  bool
}

// Null is the absence marker
func Null() Value {
	return Value{}
}

// Single wraps one extracted string
func Single(s string) Value {
	return Value{values: []string{s}}
}

// Multi wraps a list of matches. An empty list is null.
func Multi(values []string) Value {
	if len(values) == 0 {
		return Value{}
	}
	return Value{values: values, multi: true}
}

// IsNull reports whether nothing matched
func (v Value) IsNull() bool {
	return len(v.values) == 0
}

// IsMulti reports whether the value is a list
func (v Value) IsMulti() bool {
	return v.multi
}

// String returns the first match, or "" when null
func (v Value) String() string {
	if len(v.values) == 0 {
		return ""
	}
	return v.values[0]
}

// Strings returns every match
func (v Value) Strings() []string {
	return append([]string(nil), v.values...)
}

// Interface returns nil, a string or a []string
func (v Value) Interface() interface{} {
	switch {
	case v.IsNull():
		return nil
	case v.multi:
		return v.Strings()
	default:
		return v.values[0]
	}
}

// Apply runs one extractor against src
func Apply(spec Spec, src Source) Value {
	switch spec.Kind {
	case KindBoundary:
		return applyBoundary(spec.Boundary, segments(src, spec.Boundary.IncludeRedirections))
	case KindRegexp:
		return applyRegexp(spec, segments(src, spec.Regexp.IncludeRedirections))
	case KindJSONPath:
		return applyJSONPath(spec.JSONPath, src.Final.Body)
	default:
		return Null()
	}
}

// ApplyAll runs every extractor once and maps results by extractor name
func ApplyAll(specs []Spec, src Source) map[string]Value {
	out := make(map[string]Value, len(specs))
	for _, spec := range specs {
		out[spec.Name] = Apply(spec, src)
	}
	return out
}

// GetByBoundary returns the substring of source between left and right.
// An empty left means the start of source and an empty right its end.
func GetByBoundary(source, left, right string) (string, bool) {
	matches := boundaryMatches(source, left, right, 0)
	if len(matches) == 0 {
		return "", false
	}
	return matches[0], true
}

// segments lists the texts to scan in order: per document, headers then body
func segments(src Source, includeRedirections bool) []string {
	var docs []Document
	if includeRedirections {
		docs = append(docs, src.Redirects...)
	}
	docs = append(docs, src.Final)

	out := make([]string, 0, len(docs)*2)
	for _, d := range docs {
		if len(d.Headers) > 0 {
			out = append(out, renderHeaders(d.Headers))
		}
		out = append(out, d.Body)
	}
	return out
}

func renderHeaders(h http.Header) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range h[k] {
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(v)
			b.WriteString("\r\n")
		}
	}
	return b.String()
}

func applyBoundary(opts *BoundaryOptions, texts []string) Value {
	want := opts.Occurrence.index()
	var all []string
	for _, text := range texts {
		limit := 0
		if want >= 0 {
			limit = want + 1 - len(all)
		}
		all = append(all, boundaryMatches(text, opts.Left, opts.Right, limit)...)
		if want >= 0 && len(all) > want {
			return Single(all[want])
		}
	}
	if want < 0 {
		return Multi(all)
	}
	return Null()
}

// boundaryMatches returns up to limit matches in text, or all when limit is 0
func boundaryMatches(text, left, right string, limit int) []string {
	var out []string
	pos := 0
	for pos <= len(text) {
		start := pos
		if left != "" {
			i := strings.Index(text[pos:], left)
			if i < 0 {
				break
			}
			start = pos + i + len(left)
		}

		var value string
		next := start
		if right == "" {
			value = text[start:]
			next = start
		} else {
			j := strings.Index(text[start:], right)
			if j < 0 {
				break
			}
			value = text[start : start+j]
			next = start + j + len(right)
		}

		out = append(out, value)
		if limit > 0 && len(out) >= limit {
			break
		}
		if left == "" {
			// anchored at document start: one match only
			break
		}
		if next == pos {
			next++
		}
		pos = next
	}
	return out
}

func applyRegexp(spec Spec, texts []string) Value {
	want := spec.Regexp.Occurrence.index()
	var all []string
	for _, text := range texts {
		n := -1
		if want >= 0 {
			n = want + 1 - len(all)
		}
		for _, m := range spec.re.FindAllStringSubmatchIndex(text, n) {
			lo, hi := m[2*spec.group], m[2*spec.group+1]
			if lo < 0 {
				// group did not participate in this match
				all = append(all, "")
			} else {
				all = append(all, text[lo:hi])
			}
		}
		if want >= 0 && len(all) > want {
			return Single(all[want])
		}
	}
	if want < 0 {
		return Multi(all)
	}
	return Null()
}

func applyJSONPath(opts *JSONPathOptions, body string) Value {
	if opts.ReturnMultipleValues {
		values, err := jsonpath.ExtractAll(body, opts.Path)
		if err != nil {
			return Null()
		}
		return Multi(values)
	}
	value, err := jsonpath.Extract(body, opts.Path)
	if err != nil {
		return Null()
	}
	return Single(value)
}
