// Package extract pulls correlation values out of responses.
//
// An extractor is a closed variant over three kinds: boundary, regular
// expression and JSONPath. Extraction is pure: it reads a Source and returns
// a Value, never mutating either.
package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/wesleyorama2/vurun/internal/loaderr"
)

// Kind discriminates the extractor variant
type Kind int

const (
	KindBoundary Kind = iota + 1
	KindRegexp
	KindJSONPath
)

func (k Kind) String() string {
	switch k {
	case KindBoundary:
		return "boundary"
	case KindRegexp:
		return "regexp"
	case KindJSONPath:
		return "jsonpath"
	default:
		return "unknown"
	}
}

// Occurrence selects which match is returned. Zero and one both mean the
// first match; OccurrenceAll returns every match.
type Occurrence int

// OccurrenceAll selects every match
const OccurrenceAll Occurrence = -1

// ParseOccurrence accepts "all" or a positive number
func ParseOccurrence(s string) (Occurrence, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if strings.EqualFold(s, "all") {
		return OccurrenceAll, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, loaderr.Configf("occurrence", "expected \"all\" or a positive number, got %q", s)
	}
	return Occurrence(n), nil
}

func (o Occurrence) validate() error {
	if o < OccurrenceAll {
		return loaderr.Configf("occurrence", "invalid occurrence %d", o)
	}
	return nil
}

// index returns the zero-based match index, or -1 for all
func (o Occurrence) index() int {
	switch {
	case o == OccurrenceAll:
		return -1
	case o <= 1:
		return 0
	default:
		return int(o) - 1
	}
}

// BoundaryOptions configures a boundary extractor. An empty Left means the
// start of the document, an empty Right its end.
type BoundaryOptions struct {
	Left                string
	Right               string
	Occurrence          Occurrence
	IncludeRedirections bool
}

// RegexpOptions configures a regular expression extractor.
// Group defaults to 1, or 0 when the expression has no capture groups.
type RegexpOptions struct {
	Expression          string
	Flags               string
	Group               *int
	Occurrence          Occurrence
	IncludeRedirections bool
}

// JSONPathOptions configures a JSONPath extractor
type JSONPathOptions struct {
	Path                 string
	ReturnMultipleValues bool
}

// Spec is a validated extractor definition. Build it with Boundary, Regexp or
// JSONPath; exactly one of the option pointers is set, matching Kind.
type Spec struct {
	Name     string
	Kind     Kind
	Boundary *BoundaryOptions
	Regexp   *RegexpOptions
	JSONPath *JSONPathOptions

	re    *regexp.Regexp
	group int
}

// Group is a convenience for RegexpOptions.Group
func Group(n int) *int {
	return &n
}

// Boundary returns the first string between left and right
func Boundary(name, left, right string) (Spec, error) {
	return BoundaryWithOptions(name, BoundaryOptions{Left: left, Right: right})
}

// BoundaryWithOptions builds a boundary extractor
func BoundaryWithOptions(name string, opts BoundaryOptions) (Spec, error) {
	if err := validateName(name); err != nil {
		return Spec{}, err
	}
	if opts.Left == "" && opts.Right == "" {
		return Spec{}, loaderr.Configf(name, "boundary extractor needs a left or right boundary")
	}
	if err := opts.Occurrence.validate(); err != nil {
		return Spec{}, err
	}
	return Spec{Name: name, Kind: KindBoundary, Boundary: &opts}, nil
}

// Regexp returns capture group 1 of the first match of expression
func Regexp(name, expression, flags string) (Spec, error) {
	return RegexpWithOptions(name, RegexpOptions{Expression: expression, Flags: flags})
}

// RegexpWithOptions builds a regular expression extractor. Expressions use
// RE2 syntax, which matches in linear time.
func RegexpWithOptions(name string, opts RegexpOptions) (Spec, error) {
	if err := validateName(name); err != nil {
		return Spec{}, err
	}
	if opts.Expression == "" {
		return Spec{}, loaderr.Configf(name, "regexp extractor needs an expression")
	}
	if err := opts.Occurrence.validate(); err != nil {
		return Spec{}, err
	}

	prefix, err := translateFlags(opts.Flags)
	if err != nil {
		return Spec{}, loaderr.Configf(name, "%v", err)
	}
	re, err := regexp.Compile(prefix + opts.Expression)
	if err != nil {
		return Spec{}, loaderr.Configf(name, "invalid expression: %v", err)
	}

	group := 1
	if re.NumSubexp() == 0 {
		group = 0
	}
	if opts.Group != nil {
		group = *opts.Group
		if group < 0 || group > re.NumSubexp() {
			return Spec{}, loaderr.Configf(name, "group %d out of range, expression has %d groups", group, re.NumSubexp())
		}
	}

	return Spec{Name: name, Kind: KindRegexp, Regexp: &opts, re: re, group: group}, nil
}

// JSONPath builds a JSONPath extractor over the response body
func JSONPath(name, path string, returnMultipleValues bool) (Spec, error) {
	if err := validateName(name); err != nil {
		return Spec{}, err
	}
	if strings.TrimSpace(path) == "" {
		return Spec{}, loaderr.Configf(name, "jsonpath extractor needs a path")
	}
	return Spec{
		Name:     name,
		Kind:     KindJSONPath,
		JSONPath: &JSONPathOptions{Path: path, ReturnMultipleValues: returnMultipleValues},
	}, nil
}

// Validate reports whether s was built by one of the constructors
func (s Spec) Validate() error {
	if err := validateName(s.Name); err != nil {
		return err
	}
	switch s.Kind {
	case KindBoundary:
		if s.Boundary == nil {
			return loaderr.Configf(s.Name, "missing boundary options")
		}
	case KindRegexp:
		if s.Regexp == nil || s.re == nil {
			return loaderr.Configf(s.Name, "regexp extractor was not compiled")
		}
	case KindJSONPath:
		if s.JSONPath == nil {
			return loaderr.Configf(s.Name, "missing jsonpath options")
		}
	default:
		return loaderr.Configf(s.Name, "unknown extractor kind %d", s.Kind)
	}
	return nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return loaderr.Configf("name", "extractor name is required")
	}
	return nil
}

// translateFlags maps script-style flags onto an RE2 inline flag group.
// g and u are accepted and have no effect.
func translateFlags(flags string) (string, error) {
	var inline strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's', 'U':
			if !strings.ContainsRune(inline.String(), f) {
				inline.WriteRune(f)
			}
		case 'g', 'u':
		default:
			return "", fmt.Errorf("unsupported regexp flag %q", f)
		}
	}
	if inline.Len() == 0 {
		return "", nil
	}
	return "(?" + inline.String() + ")", nil
}
