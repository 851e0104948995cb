// Package query parses JSON:API style query parameters (fields, sort, filter, page and
// include) into a validated Spec. Parsing either yields a complete Spec or an
// *apierr.Error naming the offending parameter; no partial Spec is ever returned.
package query

import (
	"net/url"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/edgeflare/pgapi/pkg/apierr"
	"github.com/edgeflare/pgapi/pkg/schema"
)

// Operator is a filter comparison.
type Operator string

const (
	Eq         Operator = "eq"
	Ne         Operator = "ne"
	StartsWith Operator = "startswith"
	EndsWith   Operator = "endswith"
	Contains   Operator = "contains"
	Lt         Operator = "lt"
	Gt         Operator = "gt"
	Le         Operator = "le"
	Ge         Operator = "ge"
	Like       Operator = "like"
	ILike      Operator = "ilike"
)

var operators = map[Operator]bool{
	Eq: true, Ne: true, StartsWith: true, EndsWith: true, Contains: true,
	Lt: true, Gt: true, Le: true, Ge: true, Like: true, ILike: true,
}

// ParseOperator validates an operator name.
func ParseOperator(s string) (Operator, bool) {
	op := Operator(strings.ToLower(s))
	return op, operators[op]
}

// Direction of a sort key.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// FieldSet is a sparse field selection for one resource type.
type FieldSet map[string]struct{}

// NewFieldSet returns a set holding names.
func NewFieldSet(names ...string) FieldSet {
	fs := make(FieldSet, len(names))
	for _, n := range names {
		fs[n] = struct{}{}
	}
	return fs
}

func (fs FieldSet) Has(name string) bool {
	_, ok := fs[name]
	return ok
}

// Names returns the members in sorted order.
func (fs FieldSet) Names() []string {
	names := make([]string, 0, len(fs))
	for n := range fs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Intersect returns the members present in both sets. A nil set means "all fields".
func (fs FieldSet) Intersect(other FieldSet) FieldSet {
	switch {
	case fs == nil:
		return other
	case other == nil:
		return fs
	}
	out := make(FieldSet)
	for n := range fs {
		if other.Has(n) {
			out[n] = struct{}{}
		}
	}
	return out
}

// SortKey orders results by the attribute reached through Path.
type SortKey struct {
	Path      []string
	Direction Direction
}

// Filter constrains results to rows whose attribute at Path satisfies Operator against
// Value. Value stays raw until translation coerces it to the attribute type.
type Filter struct {
	Param    string // query parameter the filter came from
	Path     []string
	Operator Operator
	Value    string
}

// Page is the requested window over the result set.
type Page struct {
	Limit  int
	Offset int
}

// Spec is the parsed, validated query of one request. It is immutable once returned.
type Spec struct {
	// Fields holds per-type sparse fieldsets; a type without an entry selects all fields.
	Fields  map[string]FieldSet
	Sort    []SortKey
	Filters []Filter
	Page    Page
	Include [][]string
	// Values are the original parameters, kept to rebuild pagination links.
	Values url.Values
}

// FieldsFor returns the selection for typ, or nil when every field is selected.
func (s *Spec) FieldsFor(typ string) FieldSet {
	if s == nil {
		return nil
	}
	return s.Fields[typ]
}

// Includes reports whether the dotted relationship path is requested for side-loading.
func (s *Spec) Includes(path []string) bool {
	for _, inc := range s.Include {
		if slices.Equal(inc, path) {
			return true
		}
	}
	return false
}

// Options are the configured paging bounds.
type Options struct {
	DefaultLimit int
	MaxLimit     int
}

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

func (o Options) withDefaults() Options {
	if o.DefaultLimit <= 0 {
		o.DefaultLimit = DefaultLimit
	}
	if o.MaxLimit <= 0 {
		o.MaxLimit = MaxLimit
	}
	if o.DefaultLimit > o.MaxLimit {
		o.DefaultLimit = o.MaxLimit
	}
	return o
}

var (
	fieldsPattern = regexp.MustCompile(`^fields\[([^\[\]]+)\]$`)
	filterPattern = regexp.MustCompile(`^filter\[([^\[\]:]+)(?::([^\[\]:]+))?\]$`)
	pagePattern   = regexp.MustCompile(`^page\[([^\[\]]+)\]$`)
)

// Parse validates values against rt (the primary type of the request) and m.
// Parameters outside the recognised families are ignored.
func Parse(values url.Values, rt *schema.ResourceType, m *schema.Model, opts Options) (*Spec, error) {
	opts = opts.withDefaults()
	spec := &Spec{
		Fields: make(map[string]FieldSet),
		Page:   Page{Limit: opts.DefaultLimit},
		Values: values,
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		var err error
		switch family(key) {
		case "fields":
			err = parseFields(spec, key, values[key], m)
		case "filter":
			err = parseFilter(spec, key, values[key], rt, m)
		case "page":
			err = parsePage(spec, key, values[key], opts)
		case "sort":
			err = parseSort(spec, values[key], rt, m)
		case "include":
			err = parseInclude(spec, values[key], rt, m)
		case "malformed":
			err = apierr.BadParameter(key, "malformed parameter")
		}
		if err != nil {
			return nil, err
		}
	}

	if len(spec.Sort) == 0 {
		spec.Sort = []SortKey{{Path: []string{schema.IDField}, Direction: Asc}}
	}
	return spec, nil
}

func family(key string) string {
	name, _, _ := strings.Cut(key, "[")
	switch name {
	case "fields", "filter", "page":
		return name
	case "sort", "include":
		if name == key {
			return name
		}
		return "malformed"
	}
	return ""
}

func parseFields(spec *Spec, key string, values []string, m *schema.Model) error {
	match := fieldsPattern.FindStringSubmatch(key)
	if match == nil {
		return apierr.BadParameter(key, "malformed parameter, expected fields[<type>]")
	}
	typ, ok := m.Type(match[1])
	if !ok {
		return apierr.BadParameter(key, "unknown resource type %q", match[1])
	}

	fs := make(FieldSet)
	for _, name := range splitList(strings.Join(values, ",")) {
		if !typ.HasField(name) {
			return apierr.BadParameter(key, "%q is not a field of %s", name, typ.Name)
		}
		fs[name] = struct{}{}
	}
	spec.Fields[typ.Name] = fs
	return nil
}

func parseFilter(spec *Spec, key string, values []string, rt *schema.ResourceType, m *schema.Model) error {
	match := filterPattern.FindStringSubmatch(key)
	if match == nil {
		return apierr.BadParameter(key, "malformed parameter, expected filter[<path>:<operator>]")
	}

	op := Eq
	if match[2] != "" {
		var ok bool
		if op, ok = ParseOperator(match[2]); !ok {
			return apierr.BadParameter(key, "unknown operator %q", match[2])
		}
	}

	path, err := schema.SplitPath(match[1])
	if err != nil {
		return apierr.BadParameter(key, "%v", err)
	}
	if _, _, err := m.Resolve(rt, path); err != nil {
		return apierr.BadParameter(key, "%v", err)
	}

	for _, v := range values {
		spec.Filters = append(spec.Filters, Filter{Param: key, Path: path, Operator: op, Value: v})
	}
	return nil
}

func parsePage(spec *Spec, key string, values []string, opts Options) error {
	match := pagePattern.FindStringSubmatch(key)
	if match == nil {
		return apierr.BadParameter(key, "malformed parameter")
	}
	if len(values) != 1 {
		return apierr.BadParameter(key, "must be given exactly once")
	}

	n, err := strconv.Atoi(strings.TrimSpace(values[0]))
	if err != nil {
		return apierr.BadParameter(key, "%q is not an integer", values[0])
	}

	switch match[1] {
	case "limit":
		if n < 1 {
			return apierr.BadParameter(key, "must be at least 1")
		}
		spec.Page.Limit = min(n, opts.MaxLimit)
	case "offset":
		if n < 0 {
			return apierr.BadParameter(key, "must not be negative")
		}
		spec.Page.Offset = n
	default:
		return apierr.BadParameter(key, "unknown page parameter %q", match[1])
	}
	return nil
}

func parseSort(spec *Spec, values []string, rt *schema.ResourceType, m *schema.Model) error {
	for _, item := range splitList(strings.Join(values, ",")) {
		dir := Asc
		if rest, ok := strings.CutPrefix(item, "-"); ok {
			dir, item = Desc, rest
		}
		path, err := schema.SplitPath(item)
		if err != nil {
			return apierr.BadParameter("sort", "%v", err)
		}
		if _, _, err := m.Resolve(rt, path); err != nil {
			return apierr.BadParameter("sort", "%v", err)
		}
		spec.Sort = append(spec.Sort, SortKey{Path: path, Direction: dir})
	}
	return nil
}

func parseInclude(spec *Spec, values []string, rt *schema.ResourceType, m *schema.Model) error {
	for _, item := range splitList(strings.Join(values, ",")) {
		path, err := schema.SplitPath(item)
		if err != nil {
			return apierr.BadParameter("include", "%v", err)
		}
		if _, err := m.ResolveRelationships(rt, path); err != nil {
			return apierr.BadParameter("include", "%v", err)
		}
		// a.b implies a
		for i := 1; i <= len(path); i++ {
			if !spec.Includes(path[:i]) {
				spec.Include = append(spec.Include, slices.Clone(path[:i]))
			}
		}
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
