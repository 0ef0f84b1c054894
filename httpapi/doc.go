// Package httpapi exposes the query cache over HTTP: the query endpoint,
// the administrative cache surface (stats, clear, invalidate) and the
// source catalog, guarded by bearer-token verification.
package httpapi
