// Package rag implements the retrieval-augmented query pipeline: question
// rewriting, query embedding, nearest-neighbor retrieval, the confidence
// gate, and grounded answer streaming, composed by Pipeline.
//
// The pipeline is stateless per request; every Ask call owns its own
// context, deadline, and event sink, so requests run fully in parallel
// against the read-only store.
package rag
