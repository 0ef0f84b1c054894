// Package catalog persists the knowledge-base source list and the query
// history in SQLite.
package catalog
