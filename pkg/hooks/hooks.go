// Package hooks holds the ordered lifecycle callbacks that fire around serialization and
// mutation of resources.
//
// Callbacks are registered per (resource type, event) during configuration. Freeze ends
// that phase; after it the Registry is read-only and safe for concurrent requests.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	pg "github.com/edgeflare/pgapi/pkg/pgx"
	"github.com/edgeflare/pgapi/pkg/query"
	"github.com/edgeflare/pgapi/pkg/schema"
)

// Event names a point in a resource operation where callbacks fire.
type Event string

const (
	AfterSerialiseObject      Event = "after_serialise_object"
	AfterSerialiseIdentifier  Event = "after_serialise_identifier"
	AfterGet                  Event = "after_get"
	BeforePatch               Event = "before_patch"
	BeforeDelete              Event = "before_delete"
	AfterCollectionGet        Event = "after_collection_get"
	BeforeCollectionPost      Event = "before_collection_post"
	AfterRelatedGet           Event = "after_related_get"
	AfterRelationshipsGet     Event = "after_relationships_get"
	BeforeRelationshipsPost   Event = "before_relationships_post"
	BeforeRelationshipsPatch  Event = "before_relationships_patch"
	BeforeRelationshipsDelete Event = "before_relationships_delete"
)

var events = []Event{
	AfterSerialiseObject, AfterSerialiseIdentifier, AfterGet, BeforePatch, BeforeDelete,
	AfterCollectionGet, BeforeCollectionPost, AfterRelatedGet, AfterRelationshipsGet,
	BeforeRelationshipsPost, BeforeRelationshipsPatch, BeforeRelationshipsDelete,
}

// Events returns every event in a fixed order.
func Events() []Event {
	return slices.Clone(events)
}

// Valid reports whether e is one of the fixed events.
func (e Event) Valid() bool {
	return slices.Contains(events, e)
}

// Mutating reports whether e fires before a write.
func (e Event) Mutating() bool {
	switch e {
	case BeforePatch, BeforeDelete, BeforeCollectionPost,
		BeforeRelationshipsPost, BeforeRelationshipsPatch, BeforeRelationshipsDelete:
		return true
	}
	return false
}

// Func is a lifecycle callback. It may mutate hc.Object in place, return Reject to abort
// the operation, or return nil to pass.
type Func func(hc *Context) error

// Hook is a named callback. Names identify hooks for Remove and in logs.
type Hook struct {
	Name string
	Fn   Func
}

// FieldFilter returns the fields of a type the current request may see or write.
// A nil FieldSet allows every field.
type FieldFilter func(hc *Context) query.FieldSet

// Context is handed to every callback.
type Context struct {
	context.Context
	Request *http.Request
	// Conn is the request connection. During before-events it is the open transaction.
	Conn  pg.Querier
	Type  *schema.ResourceType
	Event Event
	// Object is the in-flight state: a *document.ResourceObject for object and mutation
	// events (the stored object for patch, delete and relationship mutations, the new one
	// for collection post), a *document.Identifier for after_serialise_identifier and a
	// *document.Document for the after_*_get events.
	Object any
	// Payload is the decoded request data of a mutation: a *document.ResourceObject for
	// patch and collection post, a document.Linkage for relationship mutations.
	Payload any
	// Relationship is set for relationship events and for identifiers in linkage.
	Relationship string
}

// With returns a copy of hc for another type, event and object.
func (hc *Context) With(rt *schema.ResourceType, ev Event, obj any) *Context {
	c := *hc
	c.Type = rt
	c.Event = ev
	c.Object = obj
	return &c
}

// Rejection is returned by a callback to deny the operation.
type Rejection struct {
	Hook   string
	Event  Event
	Reason string
}

func (r *Rejection) Error() string {
	if r.Hook == "" {
		return "rejected: " + r.Reason
	}
	return fmt.Sprintf("rejected by %s on %s: %s", r.Hook, r.Event, r.Reason)
}

// Reject denies the current operation.
func Reject(reason string) error {
	return &Rejection{Reason: reason}
}

// IsRejection reports whether err is, or wraps, a Rejection.
func IsRejection(err error) bool {
	var r *Rejection
	return errors.As(err, &r)
}

var (
	ErrFrozen       = errors.New("hooks: registry is frozen")
	ErrUnknownType  = errors.New("hooks: unknown resource type")
	ErrUnknownEvent = errors.New("hooks: unknown event")
	ErrNotFound     = errors.New("hooks: hook not registered")
)
