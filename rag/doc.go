// Package rag is the client for the upstream retrieval-augmented-generation
// pipeline. The cache treats it as its only external collaborator: a miss
// calls Answer once, failures surface verbatim and are never cached.
package rag
