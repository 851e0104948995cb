package schema

import (
	"fmt"
	"strings"
)

// Step is one relationship traversal of a dotted path.
type Step struct {
	From *ResourceType
	Rel  Relationship
	To   *ResourceType
}

// PathError reports the segment of a dotted path that failed to resolve.
type PathError struct {
	Path    []string
	Segment string
	Reason  string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s: %q %s", strings.Join(e.Path, "."), e.Segment, e.Reason)
}

// Resolve walks path from rt. Every segment but the last must name a relationship; the
// last must name an attribute of the type reached, or IDField for its primary key.
func (m *Model) Resolve(rt *ResourceType, path []string) ([]Step, Attribute, error) {
	if len(path) == 0 {
		return nil, Attribute{}, &PathError{Path: path, Reason: "is empty"}
	}
	steps, cur, err := m.walk(rt, path[:len(path)-1], path)
	if err != nil {
		return nil, Attribute{}, err
	}

	last := path[len(path)-1]
	if last == IDField {
		return steps, cur.KeyAttribute(), nil
	}
	attr, ok := cur.Attribute(last)
	if !ok {
		reason := fmt.Sprintf("is not an attribute of %s", cur.Name)
		if _, isRel := cur.Relationship(last); isRel {
			reason = fmt.Sprintf("is a relationship of %s, not an attribute", cur.Name)
		}
		return nil, Attribute{}, &PathError{Path: path, Segment: last, Reason: reason}
	}
	return steps, attr, nil
}

// ResolveRelationships walks a path made only of relationship names, as used by include.
func (m *Model) ResolveRelationships(rt *ResourceType, path []string) ([]Step, error) {
	if len(path) == 0 {
		return nil, &PathError{Path: path, Reason: "is empty"}
	}
	steps, _, err := m.walk(rt, path, path)
	return steps, err
}

func (m *Model) walk(rt *ResourceType, rels, full []string) ([]Step, *ResourceType, error) {
	cur := rt
	steps := make([]Step, 0, len(rels))
	for _, seg := range rels {
		rel, next, ok := m.Follow(cur, seg)
		if !ok {
			return nil, nil, &PathError{Path: full, Segment: seg, Reason: fmt.Sprintf("is not a relationship of %s", cur.Name)}
		}
		steps = append(steps, Step{From: cur, Rel: rel, To: next})
		cur = next
	}
	return steps, cur, nil
}

// KeyAttribute returns the primary key described as an attribute named IDField.
func (rt *ResourceType) KeyAttribute() Attribute {
	return Attribute{Name: IDField, Column: rt.PrimaryKey, Type: rt.KeyType}
}

// SplitPath splits a dotted path, rejecting empty segments.
func SplitPath(s string) ([]string, error) {
	parts := strings.Split(s, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%q has an empty path segment", s)
		}
	}
	return parts, nil
}

// ParseID coerces a wire id to the primary key type.
func (rt *ResourceType) ParseID(id string) (any, error) {
	return rt.KeyType.Coerce(id)
}
