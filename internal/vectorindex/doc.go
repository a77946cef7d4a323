// Package vectorindex stores chunk embeddings and answers exact
// nearest-neighbour queries by L2 distance.
//
// The index is a sequence of immutable snapshots. Build, Update and Load
// construct a complete snapshot and publish it atomically, so a concurrent
// Search sees either the old or the new contents and never a mix.
//
// Persisted indexes are two files in one directory (vectors.bin and
// chunks.db); Load validates that they agree before publishing either.
package vectorindex
