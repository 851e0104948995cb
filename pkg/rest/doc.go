// Package rest serves the resource types of a schema.Model as a JSON:API style API
// backed by PostgreSQL.
//
// Every type is reachable under its name. One generic handler serves all types; the
// {type} path segment selects the resource type descriptor.
//
//	Route                                        | Operation
//	---------------------------------------------|------------------------------------
//	GET    /{type}                               | Collection, filtered, sorted, paged
//	POST   /{type}                               | Create one resource
//	GET    /{type}/{id}                          | One resource
//	PATCH  /{type}/{id}                          | Update attributes and relationships
//	DELETE /{type}/{id}                          | Delete one resource
//	GET    /{type}/{id}/{rel}                    | Related resource(s)
//	GET    /{type}/{id}/relationships/{rel}      | Relationship linkage
//	POST   /{type}/{id}/relationships/{rel}      | Add to a to-many relationship
//	PATCH  /{type}/{id}/relationships/{rel}      | Replace a relationship
//	DELETE /{type}/{id}/relationships/{rel}      | Remove from a to-many relationship
//
// Query parameters shape read responses:
//
//	Parameter                      | Description
//	-------------------------------|------------------------------------------------
//	?fields[posts]=title,author    | Sparse fieldset per type
//	?sort=-title,author.name       | Sort keys, "-" for descending; id breaks ties
//	?filter[author.name:eq]=alice  | Filter on a dotted path (eq when the operator is omitted)
//	?filter[title:ilike]=*bob*     | like/ilike with * as the wildcard
//	?page[limit]=2&page[offset]=2  | Paging window
//	?include=author,comments       | Side-load related resources
//
// Mutations run in one transaction. The before_* hooks fire before the statement is
// issued and a rejection rolls the transaction back and answers 403. A request with
// "Prefer: return=minimal" gets 204 instead of the resulting document.
//
// Example usage:
//
//	model, _ := schema.Build(decl)
//	reg := hooks.NewRegistry(model)
//	access.Policy{AllowedObject: ownsPost}.Register(reg, "posts")
//	srv := rest.NewServer(model, reg, pool, rest.Options{BaseURL: "https://api.example.com"})
//	http.ListenAndServe(":8080", srv)
package rest
