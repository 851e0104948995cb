// Package access wires object and field level access control into the hook pipeline.
//
// A Policy holds two predicates. AllowedObject decides whether the request may see or
// change one object; AllowedFields narrows the fields it may see or write. Either may be
// nil, which allows everything and registers nothing.
//
// On collection reads a denied member is left out of data and of meta.results.available.
// On single-resource reads and on every mutation the denial fails the request with 403.
package access

import (
	"fmt"

	"github.com/edgeflare/pgapi/pkg/document"
	"github.com/edgeflare/pgapi/pkg/hooks"
	"github.com/edgeflare/pgapi/pkg/query"
)

const (
	ObjectHook = "access.allowed_object"
	FieldsHook = "access.allowed_fields"
)

// objectEvents are the serialization events plus every write.
func objectEvents() []hooks.Event {
	evs := []hooks.Event{hooks.AfterSerialiseObject, hooks.AfterSerialiseIdentifier}
	for _, ev := range hooks.Events() {
		if ev.Mutating() {
			evs = append(evs, ev)
		}
	}
	return evs
}

// payloadEvents are the writes that carry a payload.
func payloadEvents() []hooks.Event {
	var evs []hooks.Event
	for _, ev := range hooks.Events() {
		if ev.Mutating() && ev != hooks.BeforeDelete {
			evs = append(evs, ev)
		}
	}
	return evs
}

// Policy is a pair of access predicates.
type Policy struct {
	// AllowedObject reports whether the request may access obj. Identifiers in linkage
	// are passed as objects carrying only type and id.
	AllowedObject func(hc *hooks.Context, obj *document.ResourceObject) bool
	// AllowedFields returns the fields of hc.Type the request may access; nil means all.
	AllowedFields func(hc *hooks.Context) query.FieldSet
}

// Register appends the policy's hooks for each of types. It must run before the
// registry is frozen.
func (p Policy) Register(reg *hooks.Registry, types ...string) error {
	for _, typ := range types {
		if p.AllowedObject != nil {
			for _, ev := range objectEvents() {
				if err := reg.Append(typ, ev, hooks.Hook{Name: ObjectHook, Fn: p.checkObject}); err != nil {
					return fmt.Errorf("access: %w", err)
				}
			}
		}
		if p.AllowedFields != nil {
			if err := reg.AddFieldFilter(typ, p.AllowedFields); err != nil {
				return fmt.Errorf("access: %w", err)
			}
			for _, ev := range payloadEvents() {
				if err := reg.Append(typ, ev, hooks.Hook{Name: FieldsHook, Fn: p.checkPayload}); err != nil {
					return fmt.Errorf("access: %w", err)
				}
			}
		}
	}
	return nil
}

func (p Policy) checkObject(hc *hooks.Context) error {
	var obj *document.ResourceObject
	switch o := hc.Object.(type) {
	case *document.ResourceObject:
		obj = o
	case *document.Identifier:
		obj = &document.ResourceObject{Type: o.Type, ID: o.ID, Attributes: map[string]any{}}
	default:
		return nil
	}
	if p.AllowedObject(hc, obj) {
		return nil
	}
	if obj.ID == "" {
		return hooks.Reject(fmt.Sprintf("%s may not be created", obj.Type))
	}
	return hooks.Reject(fmt.Sprintf("access to %s %s denied", obj.Type, obj.ID))
}

func (p Policy) checkPayload(hc *hooks.Context) error {
	allowed := p.AllowedFields(hc)
	if allowed == nil {
		return nil
	}
	for _, f := range payloadFields(hc) {
		if !allowed.Has(f) {
			return hooks.Reject(fmt.Sprintf("field %q of %s is not writable", f, hc.Type.Name))
		}
	}
	return nil
}

// payloadFields lists the fields a mutation writes.
func payloadFields(hc *hooks.Context) []string {
	if hc.Relationship != "" {
		return []string{hc.Relationship}
	}
	obj, ok := hc.Payload.(*document.ResourceObject)
	if !ok || obj == nil {
		return nil
	}
	fields := make([]string, 0, len(obj.Attributes)+len(obj.Relationships))
	for name := range obj.Attributes {
		fields = append(fields, name)
	}
	for name := range obj.Relationships {
		fields = append(fields, name)
	}
	return fields
}
