package executor

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/edgeflare/pgapi/internal/testutil"
	"github.com/edgeflare/pgapi/pkg/apierr"
	"github.com/edgeflare/pgapi/pkg/query"
	"github.com/edgeflare/pgapi/pkg/schema"
	"github.com/edgeflare/pgapi/pkg/translate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	postCols    = []string{"id", "title", "body", "rating", "published_at", "metadata", "author_id"}
	peopleCols  = []string{"id", "name", "email", "age"}
	commentCols = []string{"id", "body", "post_id", "author_id"}
	linkCols    = []string{"owner", "id"}

	post1 = []any{int32(1), "alpha", "first", nil, nil, nil, int32(1)}
	post2 = []any{int32(2), "bravo", "second", nil, nil, nil, int32(2)}
	post6 = []any{int32(6), "foxtrot", "sixth", nil, nil, nil, nil}

	alice = []any{int32(1), "alice", "alice@example.com", int32(31)}
	bob   = []any{int32(2), "bob", "bob@example.com", int32(42)}
	carol = []any{int32(3), "carol", "carol@example.com", int32(27)}

	comment10 = []any{int32(10), "nice", int32(1), int32(2)}
	comment11 = []any{int32(11), "agreed", int32(1), int32(3)}
)

const (
	countPosts     = `SELECT count(*) FROM "pgapi_test"."posts"`
	selectPosts    = `FROM "pgapi_test"."posts" AS "t0"`
	lookupPeople   = `FROM "pgapi_test"."people" AS "t0" WHERE "t0"."id" = ANY($1)`
	lookupComments = `FROM "pgapi_test"."comments" AS "t0" WHERE "t0"."id" = ANY($1)`
	postComments   = `FROM "pgapi_test"."comments" AS "t0" WHERE "t0"."post_id" = ANY($1)`
	postTags       = `FROM "pgapi_test"."post_tags" AS "j" WHERE "j"."post_id" = ANY($1)`
)

type fixture struct {
	model *schema.Model
	tr    *translate.Translator
	ex    *Executor
	posts *schema.ResourceType
}

func newFixture(t *testing.T) fixture {
	m := testutil.Blog(t)
	posts, _ := m.Type("posts")
	tr := translate.New(m)
	return fixture{model: m, tr: tr, ex: New(tr), posts: posts}
}

func (f fixture) spec(t *testing.T, rawQuery string) *query.Spec {
	t.Helper()
	values, err := url.ParseQuery(rawQuery)
	require.NoError(t, err)
	spec, err := query.Parse(values, f.posts, f.model, query.Options{})
	require.NoError(t, err)
	return spec
}

func (f fixture) plan(t *testing.T, spec *query.Spec) *translate.Plan {
	t.Helper()
	plan, err := f.tr.Collection(f.posts, spec)
	require.NoError(t, err)
	return plan
}

func TestCollection(t *testing.T) {
	f := newFixture(t)
	conn := (&fakeConn{}).
		on(countPosts, []string{"count"}, static([]any{int64(6)})).
		on(selectPosts, postCols, static(post1, post2)).
		on(postComments, linkCols, byKeys(0,
			[]any{int32(1), int32(11)},
			[]any{int32(1), int32(10)},
			[]any{int32(3), int32(12)},
		))

	spec := f.spec(t, "fields[posts]=title,author,comments&page[limit]=2")
	res, err := f.ex.Collection(context.Background(), conn, f.plan(t, spec), spec)
	require.NoError(t, err)

	assert.Equal(t, 6, res.Available)
	assert.Equal(t, query.Page{Limit: 2}, res.Page)
	require.Len(t, res.Entities, 2)

	p1 := res.Entities[0]
	assert.Equal(t, "1", p1.ID)
	title, _ := f.posts.Attribute("title")
	assert.Equal(t, "alpha", p1.Value(title))

	author, ok := p1.Linkage("author")
	require.True(t, ok)
	assert.Equal(t, []Ref{{ID: "1", Key: int32(1)}}, author)

	comments, ok := p1.Linkage("comments")
	require.True(t, ok)
	assert.Equal(t, []string{"11", "10"}, ids(comments), "linkage keeps store order")

	comments, ok = res.Entities[1].Linkage("comments")
	require.True(t, ok)
	assert.Empty(t, comments)
	assert.NotNil(t, comments)

	_, ok = p1.Linkage("tags")
	assert.False(t, ok, "relationships outside the fieldset are not loaded")

	assert.Equal(t, 1, conn.count(postComments), "one batched query per relationship")
	assert.Equal(t, 0, conn.count(postTags))
	assert.Len(t, conn.queries, 3)

	last := conn.queries[2]
	assert.ElementsMatch(t, []any{int32(1), int32(2)}, last.args[0])
}

func TestCollectionNullForeignKey(t *testing.T) {
	f := newFixture(t)
	conn := (&fakeConn{}).
		on(countPosts, []string{"count"}, static([]any{int64(1)})).
		on(selectPosts, postCols, static(post6))

	spec := f.spec(t, "fields[posts]=author")
	res, err := f.ex.Collection(context.Background(), conn, f.plan(t, spec), spec)
	require.NoError(t, err)
	require.Len(t, res.Entities, 1)

	author, ok := res.Entities[0].Linkage("author")
	require.True(t, ok)
	assert.Empty(t, author)
}

func TestCollectionPastTheEnd(t *testing.T) {
	f := newFixture(t)
	conn := (&fakeConn{}).
		on(countPosts, []string{"count"}, static([]any{int64(6)}))

	spec := f.spec(t, "page[offset]=6")
	res, err := f.ex.Collection(context.Background(), conn, f.plan(t, spec), spec)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Available)
	assert.Empty(t, res.Entities)
	assert.Len(t, conn.queries, 1)
}

func TestAllAndPaginate(t *testing.T) {
	f := newFixture(t)
	conn := (&fakeConn{}).
		on(selectPosts, postCols, static(post1, post2, post6))

	spec := f.spec(t, "fields[posts]=title&page[limit]=2&page[offset]=1")
	ents, err := f.ex.All(context.Background(), conn, f.plan(t, spec), spec)
	require.NoError(t, err)
	require.Len(t, ents, 3)
	assert.NotContains(t, conn.queries[0].sql, "LIMIT")

	res := Paginate(ents, spec.Page)
	assert.Equal(t, 3, res.Available)
	assert.Equal(t, []string{"2", "6"}, entityIDs(res.Entities))

	res = Paginate(ents, query.Page{Limit: 2, Offset: 5})
	assert.Empty(t, res.Entities)
	assert.NotNil(t, res.Entities)
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	lookupPosts := `FROM "pgapi_test"."posts" AS "t0" WHERE "t0"."id" = ANY($1)`
	conn := (&fakeConn{}).
		on(lookupPosts, postCols, byKeys(0, post1, post2)).
		on(postTags, linkCols, byKeys(0, []any{int32(1), int32(1)}, []any{int32(1), int32(2)}))

	spec := f.spec(t, "fields[posts]=tags")
	ent, err := f.ex.Get(context.Background(), conn, f.posts, "1", spec)
	require.NoError(t, err)
	assert.Equal(t, "1", ent.ID)
	tags, _ := ent.Linkage("tags")
	assert.Equal(t, []string{"1", "2"}, ids(tags))

	_, err = f.ex.Get(context.Background(), conn, f.posts, "99", spec)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, apierr.StatusOf(err))

	n := len(conn.queries)
	_, err = f.ex.Get(context.Background(), conn, f.posts, "abc", spec)
	assert.Equal(t, http.StatusNotFound, apierr.StatusOf(err))
	assert.Len(t, conn.queries, n, "malformed ids never reach the store")
}

func TestInclude(t *testing.T) {
	f := newFixture(t)
	conn := (&fakeConn{}).
		on(countPosts, []string{"count"}, static([]any{int64(2)})).
		on(selectPosts, postCols, static(post1, post2)).
		on(postComments, linkCols, byKeys(0, []any{int32(1), int32(10)}, []any{int32(1), int32(11)})).
		on(lookupPeople, peopleCols, byKeys(0, alice, bob, carol)).
		on(lookupComments, commentCols, byKeys(0, comment10, comment11))

	spec := f.spec(t, "include=author,comments.author&fields[posts]=title,author,comments&fields[people]=name&fields[comments]=body,author")
	ctx := context.Background()
	res, err := f.ex.Collection(ctx, conn, f.plan(t, spec), spec)
	require.NoError(t, err)

	included, err := f.ex.Include(ctx, conn, res.Entities, spec)
	require.NoError(t, err)

	var got []string
	for _, ent := range included {
		got = append(got, ent.Type.Name+":"+ent.ID)
	}
	assert.Equal(t, []string{"people:1", "people:2", "comments:10", "comments:11", "people:3"}, got)

	assert.Equal(t, 2, conn.count(lookupPeople), "one lookup per include level")
	assert.Equal(t, 1, conn.count(lookupComments))
	assert.Equal(t, 1, conn.count(postComments))

	author, ok := included[2].Linkage("author")
	require.True(t, ok)
	assert.Equal(t, []string{"2"}, ids(author))
}

func TestIncludeWithoutPaths(t *testing.T) {
	f := newFixture(t)
	included, err := f.ex.Include(context.Background(), &fakeConn{}, nil, f.spec(t, ""))
	require.NoError(t, err)
	assert.Empty(t, included)
}

func TestFormatID(t *testing.T) {
	assert.Equal(t, "42", FormatID(int64(42)))
	assert.Equal(t, "7", FormatID(int32(7)))
	assert.Equal(t, "abc", FormatID("abc"))
	assert.Equal(t, "a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11", FormatID([16]byte{
		0xa0, 0xee, 0xbc, 0x99, 0x9c, 0x0b, 0x4e, 0xf8, 0xbb, 0x6d, 0x6b, 0xb9, 0xbd, 0x38, 0x0a, 0x11,
	}))
}

func ids(refs []Ref) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.ID
	}
	return out
}

func entityIDs(ents []*Entity) []string {
	out := make([]string, len(ents))
	for i, e := range ents {
		out[i] = e.ID
	}
	return out
}
