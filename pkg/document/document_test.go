package document_test

import (
	"context"
	"encoding/json"
	"math"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/edgeflare/pgapi/internal/testutil"
	"github.com/edgeflare/pgapi/pkg/document"
	"github.com/edgeflare/pgapi/pkg/executor"
	"github.com/edgeflare/pgapi/pkg/hooks"
	"github.com/edgeflare/pgapi/pkg/query"
	"github.com/edgeflare/pgapi/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	model *schema.Model
	reg   *hooks.Registry
	hc    *hooks.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := testutil.Blog(t)
	return &fixture{model: m, reg: hooks.NewRegistry(m), hc: &hooks.Context{Context: context.Background()}}
}

func (f *fixture) serializer(relLimit int) *document.Serializer {
	f.reg.Freeze()
	return document.NewSerializer(f.model, f.reg, document.Options{BaseURL: "http://api.test/", RelationshipLimit: relLimit})
}

func (f *fixture) post(t *testing.T, id int32, title string, author any, tags ...int32) *executor.Entity {
	t.Helper()
	rt, ok := f.model.Type("posts")
	require.True(t, ok)
	links := map[string][]executor.Ref{"author": {}, "comments": {}}
	if author != nil {
		links["author"] = []executor.Ref{{ID: executor.FormatID(author), Key: author}}
	}
	refs := []executor.Ref{}
	for _, tag := range tags {
		refs = append(refs, executor.Ref{ID: executor.FormatID(tag), Key: tag})
	}
	links["tags"] = refs
	return &executor.Entity{
		Type: rt,
		ID:   executor.FormatID(id),
		Key:  id,
		Row: map[string]any{
			"id": id, "title": title, "body": "text of " + title, "author_id": author,
			"rating": nil, "published_at": nil, "metadata": map[string]any{"k": "v"},
		},
		Links: links,
	}
}

func TestObject(t *testing.T) {
	f := newFixture(t)
	s := f.serializer(10)

	obj, err := s.Object(f.hc, &query.Spec{}, f.post(t, 1, "alpha", int32(2), 1, 2))
	require.NoError(t, err)

	assert.Equal(t, "posts", obj.Type)
	assert.Equal(t, "1", obj.ID)
	assert.Equal(t, "http://api.test/posts/1", obj.Links["self"])
	assert.Equal(t, "alpha", obj.Attributes["title"])
	assert.NotContains(t, obj.Attributes, "author_id")
	assert.NotContains(t, obj.Attributes, "id")

	author := obj.Relationships["author"]
	require.NotNil(t, author.Data)
	assert.Equal(t, &document.Identifier{Type: "people", ID: "2"}, author.Data.One)
	assert.Equal(t, "MANYTOONE", author.Meta.Direction)
	assert.Nil(t, author.Meta.Results)
	assert.Equal(t, "http://api.test/posts/1/relationships/author", author.Links["self"])
	assert.Equal(t, "http://api.test/posts/1/author", author.Links["related"])

	tags := obj.Relationships["tags"]
	assert.Equal(t, []document.Identifier{{Type: "tags", ID: "1"}, {Type: "tags", ID: "2"}}, tags.Data.Many)
	assert.Equal(t, "MANYTOMANY", tags.Meta.Direction)
	assert.Equal(t, &document.RelationshipResults{Available: 2, Limit: 10, Returned: 2}, tags.Meta.Results)

	comments := obj.Relationships["comments"]
	assert.Equal(t, "ONETOMANY", comments.Meta.Direction)
	data, err := json.Marshal(comments.Data)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}

func TestObjectNullToOne(t *testing.T) {
	f := newFixture(t)
	s := f.serializer(10)

	obj, err := s.Object(f.hc, &query.Spec{}, f.post(t, 6, "foxtrot", nil))
	require.NoError(t, err)
	data, err := json.Marshal(obj.Relationships["author"])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"data":null`)
}

func TestSparseFields(t *testing.T) {
	f := newFixture(t)
	s := f.serializer(10)
	spec := &query.Spec{Fields: map[string]query.FieldSet{"posts": query.NewFieldSet("title", "author")}}

	obj, err := s.Object(f.hc, spec, f.post(t, 1, "alpha", int32(2)))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "alpha"}, obj.Attributes)
	assert.Len(t, obj.Relationships, 1)
	assert.Contains(t, obj.Relationships, "author")
	assert.Equal(t, "1", obj.ID)
	assert.NotEmpty(t, obj.Links["self"])
}

func TestFieldFilterNarrowsSelection(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reg.AddFieldFilter("posts", func(*hooks.Context) query.FieldSet {
		return query.NewFieldSet("title", "tags")
	}))
	s := f.serializer(10)
	spec := &query.Spec{Fields: map[string]query.FieldSet{"posts": query.NewFieldSet("title", "body", "author")}}

	obj, err := s.Object(f.hc, spec, f.post(t, 1, "alpha", int32(2)))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "alpha"}, obj.Attributes)
	assert.Empty(t, obj.Relationships)
}

func TestRelationshipLimit(t *testing.T) {
	f := newFixture(t)
	s := f.serializer(2)

	obj, err := s.Object(f.hc, &query.Spec{}, f.post(t, 1, "alpha", nil, 1, 2, 3))
	require.NoError(t, err)
	tags := obj.Relationships["tags"]
	assert.Len(t, tags.Data.Many, 2)
	assert.Equal(t, &document.RelationshipResults{Available: 3, Limit: 2, Returned: 2}, tags.Meta.Results)
}

func TestIdentifierRejectionBeforeCounting(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reg.Append("tags", hooks.AfterSerialiseIdentifier, hooks.Hook{
		Name: "hide-tag-2",
		Fn: func(hc *hooks.Context) error {
			assert.Equal(t, "tags", hc.Relationship)
			if hc.Object.(*document.Identifier).ID == "2" {
				return hooks.Reject("hidden")
			}
			return nil
		},
	}))
	s := f.serializer(10)

	obj, err := s.Object(f.hc, &query.Spec{}, f.post(t, 1, "alpha", nil, 1, 2, 3))
	require.NoError(t, err)
	tags := obj.Relationships["tags"]
	assert.Equal(t, []document.Identifier{{Type: "tags", ID: "1"}, {Type: "tags", ID: "3"}}, tags.Data.Many)
	assert.Equal(t, 2, tags.Meta.Results.Available)
}

func TestObjectsDropRejected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reg.Append("posts", hooks.AfterSerialiseObject, hooks.Hook{
		Name: "deny-3",
		Fn: func(hc *hooks.Context) error {
			if hc.Object.(*document.ResourceObject).ID == "3" {
				return hooks.Reject("denied")
			}
			return nil
		},
	}))
	s := f.serializer(10)
	ents := []*executor.Entity{
		f.post(t, 2, "bravo", nil), f.post(t, 3, "charlie", nil), f.post(t, 4, "delta", nil),
	}

	objs, err := s.Objects(f.hc, &query.Spec{}, ents)
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "2", objs[0].ID)
	assert.Equal(t, "4", objs[1].ID)

	_, err = s.Object(f.hc, &query.Spec{}, ents[1])
	assert.True(t, hooks.IsRejection(err))
}

func TestObjectHookMutates(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reg.Append("posts", hooks.AfterSerialiseObject, hooks.Hook{
		Name: "upper",
		Fn: func(hc *hooks.Context) error {
			obj := hc.Object.(*document.ResourceObject)
			obj.Attributes["title"] = strings.ToUpper(obj.Attributes["title"].(string))
			return nil
		},
	}))
	s := f.serializer(10)

	obj, err := s.Object(f.hc, &query.Spec{}, f.post(t, 1, "alpha", nil))
	require.NoError(t, err)
	assert.Equal(t, "ALPHA", obj.Attributes["title"])
}

func pageOffset(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	return u.Query().Get("page[offset]")
}

func TestCollectionLinks(t *testing.T) {
	f := newFixture(t)
	s := f.serializer(10)
	values := url.Values{"page[limit]": {"2"}, "page[offset]": {"2"}, "sort": {"-title"}}
	spec := &query.Spec{Page: query.Page{Limit: 2, Offset: 2}, Values: values}
	data := []*document.ResourceObject{{Type: "posts", ID: "3"}, {Type: "posts", ID: "4"}}

	doc := s.Collection("/posts", spec, data, 6, nil)

	assert.Equal(t, "0", pageOffset(t, doc.Links["prev"]))
	assert.Equal(t, "4", pageOffset(t, doc.Links["next"]))
	assert.Equal(t, "0", pageOffset(t, doc.Links["first"]))
	assert.Equal(t, "4", pageOffset(t, doc.Links["last"]))

	next, err := url.Parse(doc.Links["next"])
	require.NoError(t, err)
	assert.Equal(t, "/posts", next.Path)
	assert.Equal(t, "-title", next.Query().Get("sort"))
	assert.Equal(t, "2", next.Query().Get("page[limit]"))
	assert.True(t, strings.HasPrefix(doc.Links["self"], "http://api.test/posts?"))

	res, ok := doc.Results()
	require.True(t, ok)
	assert.Equal(t, document.Results{Available: 6, Limit: 2, Offset: 2, Returned: 2}, res)
	assert.NotNil(t, doc.Included)
}

func TestCollectionBoundaries(t *testing.T) {
	f := newFixture(t)
	s := f.serializer(10)

	first := s.Collection("/posts", &query.Spec{Page: query.Page{Limit: 10}}, objects(6), 6, nil)
	assert.NotContains(t, first.Links, "next")
	assert.NotContains(t, first.Links, "prev")
	assert.Equal(t, "0", pageOffset(t, first.Links["last"]))
	assert.Equal(t, "http://api.test/posts", first.Links["self"])

	tail := s.Collection("/posts", &query.Spec{Page: query.Page{Limit: 4, Offset: 3}}, objects(3), 6, nil)
	assert.NotContains(t, tail.Links, "next")
	assert.Equal(t, "0", pageOffset(t, tail.Links["prev"]))
	assert.Equal(t, "4", pageOffset(t, tail.Links["last"]))

	beyond := s.Collection("/posts", &query.Spec{Page: query.Page{Limit: 10, Offset: math.MaxInt}}, []*document.ResourceObject{}, 6, nil)
	assert.NotContains(t, beyond.Links, "next")
	assert.Equal(t, strconv.Itoa(math.MaxInt-10), pageOffset(t, beyond.Links["prev"]))

	empty := s.Collection("/posts", &query.Spec{Page: query.Page{Limit: 10}}, []*document.ResourceObject{}, 0, nil)
	assert.Equal(t, "0", pageOffset(t, empty.Links["last"]))
	data, err := json.Marshal(empty)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(mustField(t, data, "data")))
	assert.JSONEq(t, `[]`, string(mustField(t, data, "included")))
}

func objects(n int) []*document.ResourceObject {
	objs := make([]*document.ResourceObject, n)
	for i := range objs {
		objs[i] = &document.ResourceObject{Type: "posts", ID: strconv.Itoa(i + 1)}
	}
	return objs
}

func mustField(t *testing.T, doc []byte, name string) json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(doc, &m))
	require.Contains(t, m, name)
	return m[name]
}

func TestIncludedDeduplicated(t *testing.T) {
	f := newFixture(t)
	s := f.serializer(10)
	data := []*document.ResourceObject{{Type: "people", ID: "1"}}
	included := []*document.ResourceObject{
		{Type: "people", ID: "1"}, {Type: "posts", ID: "1"}, {Type: "posts", ID: "1"}, {Type: "people", ID: "2"},
	}

	doc := s.Collection("/people", &query.Spec{Page: query.Page{Limit: 10}}, data, 1, included)
	require.Len(t, doc.Included, 2)
	assert.Equal(t, document.Identifier{Type: "posts", ID: "1"}, doc.Included[0].Identifier())
	assert.Equal(t, document.Identifier{Type: "people", ID: "2"}, doc.Included[1].Identifier())
}

func TestResourceDocument(t *testing.T) {
	f := newFixture(t)
	s := f.serializer(10)
	obj := &document.ResourceObject{Type: "posts", ID: "1", Attributes: map[string]any{}}

	doc := s.Resource("/posts/1", obj, []*document.ResourceObject{{Type: "posts", ID: "1"}})
	assert.Empty(t, doc.Meta)
	assert.Empty(t, doc.Included)
	assert.NotContains(t, doc.Links, "next")

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(mustField(t, data, "meta")))

	null, err := json.Marshal(s.Resource("/posts/6/author", nil, nil))
	require.NoError(t, err)
	assert.JSONEq(t, `null`, string(mustField(t, null, "data")))
}

func TestLinkageDocument(t *testing.T) {
	f := newFixture(t)
	s := f.serializer(10)
	owner := f.post(t, 1, "alpha", int32(2), 1)
	rt := owner.Type

	tags, _ := rt.Relationship("tags")
	doc := s.Linkage(owner, tags, []document.Identifier{{Type: "tags", ID: "1"}})
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"type":"tags","id":"1"}]`, string(mustField(t, data, "data")))
	assert.Equal(t, "http://api.test/posts/1/relationships/tags", doc.Links["self"])

	author, _ := rt.Relationship("author")
	doc = s.Linkage(owner, author, nil)
	data, err = json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `null`, string(mustField(t, data, "data")))
	assert.Equal(t, "MANYTOONE", doc.Meta["direction"])
}

func TestDecodeResource(t *testing.T) {
	obj, err := document.DecodeResource(strings.NewReader(`{"data":{"type":"posts","attributes":{"title":"golf","views":9007199254740993},
		"relationships":{"author":{"data":null},"tags":{"data":[{"type":"tags","id":"2"}]}}}}`))
	require.NoError(t, err)
	assert.Equal(t, "posts", obj.Type)
	assert.Empty(t, obj.ID)
	assert.Equal(t, "golf", obj.Attributes["title"])
	assert.Equal(t, json.Number("9007199254740993"), obj.Attributes["views"])
	require.NotNil(t, obj.Relationships["author"].Data)
	assert.Nil(t, obj.Relationships["author"].Data.One)
	assert.False(t, obj.Relationships["author"].Data.ToMany)
	assert.Equal(t, []document.Identifier{{Type: "tags", ID: "2"}}, obj.Relationships["tags"].Data.Identifiers())

	for name, body := range map[string]string{
		"not json":          `{`,
		"no data":           `{"meta":{}}`,
		"null data":         `{"data":null}`,
		"no type":           `{"data":{"attributes":{}}}`,
		"relationship only": `{"data":{"type":"posts","relationships":{"author":{"links":{}}}}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := document.DecodeResource(strings.NewReader(body))
			require.Error(t, err)
		})
	}
}

func TestDecodeLinkage(t *testing.T) {
	l, err := document.DecodeLinkage(strings.NewReader(`{"data":[{"type":"tags","id":"1"},{"type":"tags","id":"3"}]}`))
	require.NoError(t, err)
	assert.True(t, l.ToMany)
	assert.Len(t, l.Identifiers(), 2)

	l, err = document.DecodeLinkage(strings.NewReader(`{"data":null}`))
	require.NoError(t, err)
	assert.Empty(t, l.Identifiers())
	assert.False(t, l.ToMany)

	_, err = document.DecodeLinkage(strings.NewReader(`{"data":[{"type":"tags"}]}`))
	require.Error(t, err)
	_, err = document.DecodeLinkage(strings.NewReader(`{"data":"tags"}`))
	require.Error(t, err)
}
