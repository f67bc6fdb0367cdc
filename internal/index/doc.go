// Package index builds and maintains the on-disk index of a project.
//
// A generation is the triple of vectors.hnsw, meta.jsonl and manifest.json
// under <root>/.repoindex. The Coordinator is the only writer: it holds the
// build lock, writes each artifact to a .tmp sibling, verifies the temp
// generation and renames vectors, meta and finally the manifest into place.
// Readers load the generation the manifest describes and never take the
// build lock.
package index
