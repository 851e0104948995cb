package hooks

import (
	"errors"
	"fmt"
	"slices"

	"github.com/edgeflare/pgapi/pkg/query"
	"github.com/edgeflare/pgapi/pkg/schema"
)

type key struct {
	typ   string
	event Event
}

// Registry maps (resource type, event) to an ordered list of hooks.
type Registry struct {
	types   map[string]bool
	hooks   map[key][]Hook
	filters map[string][]FieldFilter
	frozen  bool
}

// NewRegistry returns an empty registry accepting the types of m.
func NewRegistry(m *schema.Model) *Registry {
	r := &Registry{
		types:   make(map[string]bool),
		hooks:   make(map[key][]Hook),
		filters: make(map[string][]FieldFilter),
	}
	for _, rt := range m.Types() {
		r.types[rt.Name] = true
	}
	return r
}

func (r *Registry) check(typ string, ev Event) error {
	if r.frozen {
		return ErrFrozen
	}
	if !r.types[typ] {
		return fmt.Errorf("%w %q", ErrUnknownType, typ)
	}
	if !ev.Valid() {
		return fmt.Errorf("%w %q", ErrUnknownEvent, ev)
	}
	return nil
}

func checkHook(h Hook) error {
	if h.Name == "" || h.Fn == nil {
		return errors.New("hooks: hook needs a name and a function")
	}
	return nil
}

// Append adds h to the end of the list for (typ, ev).
func (r *Registry) Append(typ string, ev Event, h Hook) error {
	if err := r.check(typ, ev); err != nil {
		return err
	}
	if err := checkHook(h); err != nil {
		return err
	}
	k := key{typ, ev}
	r.hooks[k] = append(r.hooks[k], h)
	return nil
}

// Prepend adds h to the front of the list for (typ, ev) so it runs first.
func (r *Registry) Prepend(typ string, ev Event, h Hook) error {
	if err := r.check(typ, ev); err != nil {
		return err
	}
	if err := checkHook(h); err != nil {
		return err
	}
	k := key{typ, ev}
	r.hooks[k] = slices.Insert(r.hooks[k], 0, h)
	return nil
}

// Remove deletes every hook named name from the list for (typ, ev).
func (r *Registry) Remove(typ string, ev Event, name string) error {
	if err := r.check(typ, ev); err != nil {
		return err
	}
	k := key{typ, ev}
	before := len(r.hooks[k])
	r.hooks[k] = slices.DeleteFunc(r.hooks[k], func(h Hook) bool { return h.Name == name })
	if len(r.hooks[k]) == before {
		return fmt.Errorf("%w: %s on %s.%s", ErrNotFound, name, typ, ev)
	}
	return nil
}

// AddFieldFilter registers fn to narrow the fields of typ visible to a request.
func (r *Registry) AddFieldFilter(typ string, fn FieldFilter) error {
	if r.frozen {
		return ErrFrozen
	}
	if !r.types[typ] {
		return fmt.Errorf("%w %q", ErrUnknownType, typ)
	}
	r.filters[typ] = append(r.filters[typ], fn)
	return nil
}

// Freeze ends configuration. Later registration fails with ErrFrozen.
func (r *Registry) Freeze() {
	r.frozen = true
}

// Has reports whether any hook is registered for (typ, ev).
func (r *Registry) Has(typ string, ev Event) bool {
	return len(r.hooks[key{typ, ev}]) > 0
}

// Names returns the hook names for (typ, ev) in run order.
func (r *Registry) Names(typ string, ev Event) []string {
	hs := r.hooks[key{typ, ev}]
	names := make([]string, len(hs))
	for i, h := range hs {
		names[i] = h.Name
	}
	return names
}

// Run calls the hooks for (hc.Type, hc.Event) in order and stops at the first error.
// A rejection comes back as *Rejection naming the hook; other errors are wrapped.
func (r *Registry) Run(hc *Context) error {
	if hc.Type == nil {
		return fmt.Errorf("%w: nil", ErrUnknownType)
	}
	for _, h := range r.hooks[key{hc.Type.Name, hc.Event}] {
		err := h.Fn(hc)
		if err == nil {
			continue
		}
		var rej *Rejection
		if errors.As(err, &rej) {
			if rej.Hook == "" {
				rej.Hook = h.Name
				rej.Event = hc.Event
			}
			return rej
		}
		return fmt.Errorf("hook %s on %s.%s: %w", h.Name, hc.Type.Name, hc.Event, err)
	}
	return nil
}

// AllowedFields intersects every field filter of hc.Type. nil means all fields.
func (r *Registry) AllowedFields(hc *Context) query.FieldSet {
	if hc.Type == nil {
		return nil
	}
	var allowed query.FieldSet
	for _, fn := range r.filters[hc.Type.Name] {
		allowed = allowed.Intersect(fn(hc))
	}
	return allowed
}

// HasFieldFilters reports whether typ has any field filter.
func (r *Registry) HasFieldFilters(typ string) bool {
	return len(r.filters[typ]) > 0
}
