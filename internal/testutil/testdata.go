package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/edgeflare/pgapi/pkg/schema"
	"github.com/stretchr/testify/require"
)

// LoadJSON reads and unmarshals a JSON file. If target is provided, it attempts to unmarshal the JSON into the target struct.
func LoadJSON(filename string, target ...any) (map[string]any, error) {
	var result map[string]any

	_, currentFile, _, _ := runtime.Caller(0)
	dir := filepath.Dir(currentFile)

	data, err := os.ReadFile(filepath.Join(dir, filename))
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(data, &result)
	if err != nil {
		return nil, err
	}

	if len(target) > 0 && target[0] != nil {
		err = json.Unmarshal(data, target[0])
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// BlogDeclaration returns the people/posts/comments/tags declaration from blog.json.
func BlogDeclaration(t testing.TB) schema.Declaration {
	t.Helper()
	raw, err := LoadJSON("blog.json")
	require.NoError(t, err)
	decl, err := schema.Decode(raw)
	require.NoError(t, err)
	return decl
}

// Blog builds the Model of blog.json.
func Blog(t testing.TB) *schema.Model {
	t.Helper()
	m, err := schema.Build(BlogDeclaration(t))
	require.NoError(t, err)
	return m
}

// BlogSQL creates and seeds the pgapi_test schema matching blog.json. Post ids 1..6 are
// titled alpha..foxtrot; people are alice(1), bob(2) and carol(3).
var BlogSQL = []string{
	`DROP SCHEMA IF EXISTS pgapi_test CASCADE`,
	`CREATE SCHEMA pgapi_test`,
	`CREATE TABLE pgapi_test.people (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		email VARCHAR(255),
		age INTEGER
	)`,
	`CREATE TABLE pgapi_test.posts (
		id SERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		body TEXT,
		author_id INTEGER REFERENCES pgapi_test.people(id),
		rating NUMERIC,
		published_at TIMESTAMPTZ,
		metadata JSONB
	)`,
	`CREATE TABLE pgapi_test.comments (
		id SERIAL PRIMARY KEY,
		body TEXT,
		post_id INTEGER REFERENCES pgapi_test.posts(id) ON DELETE CASCADE,
		author_id INTEGER REFERENCES pgapi_test.people(id)
	)`,
	`CREATE TABLE pgapi_test.tags (
		id SERIAL PRIMARY KEY,
		label TEXT NOT NULL
	)`,
	`CREATE TABLE pgapi_test.post_tags (
		post_id INTEGER REFERENCES pgapi_test.posts(id) ON DELETE CASCADE,
		tag_id INTEGER REFERENCES pgapi_test.tags(id) ON DELETE CASCADE,
		PRIMARY KEY (post_id, tag_id)
	)`,
	`INSERT INTO pgapi_test.people (name, email, age) VALUES
		('alice', 'alice@example.com', 31),
		('bob', 'bob@example.com', 42),
		('carol', 'carol@example.com', 27)`,
	`INSERT INTO pgapi_test.posts (title, body, author_id, rating, published_at) VALUES
		('alpha', 'first', 1, 4.5, '2024-01-01T10:00:00Z'),
		('bravo', 'second', 1, 3.0, '2024-01-02T10:00:00Z'),
		('charlie', 'third', 2, 5.0, '2024-01-03T10:00:00Z'),
		('delta', 'fourth', 2, 2.5, '2024-01-04T10:00:00Z'),
		('echo', 'fifth', 3, 4.0, '2024-01-05T10:00:00Z'),
		('foxtrot', 'sixth', NULL, NULL, NULL)`,
	`INSERT INTO pgapi_test.comments (body, post_id, author_id) VALUES
		('nice', 1, 2),
		('agreed', 1, 3),
		('hmm', 3, 1)`,
	`INSERT INTO pgapi_test.tags (label) VALUES ('go'), ('sql'), ('api')`,
	`INSERT INTO pgapi_test.post_tags (post_id, tag_id) VALUES (1, 1), (1, 2), (2, 1), (3, 3)`,
}
