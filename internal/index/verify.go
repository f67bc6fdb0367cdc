package index

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	ierrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/store"
)

// Kind classifies a verification problem.
type Kind string

const (
	KindMissingManifest    Kind = "missing_manifest"
	KindMissingArtifact    Kind = "missing_artifact"
	KindVectorsChecksum    Kind = "vectors_checksum_mismatch"
	KindMetaChecksum       Kind = "meta_checksum_mismatch"
	KindCountMismatch      Kind = "count_mismatch"
	KindOrphanVector       Kind = "orphan_vector"
	KindOrphanMeta         Kind = "orphan_meta"
	KindDuplicateID        Kind = "duplicate_id"
	KindDimensionMismatch  Kind = "dimension_mismatch"
	KindUnreadableArtifact Kind = "unreadable_artifact"
)

// Problem is one finding of Verify.
type Problem struct {
	Kind   Kind   `json:"kind"`
	Detail string `json:"detail"`
}

// Report is the outcome of Verify. Verify never repairs anything.
type Report struct {
	Dir      string    `json:"dir"`
	OK       bool      `json:"ok"`
	Files    int       `json:"files"`
	Chunks   int       `json:"chunks"`
	Vectors  int       `json:"vectors"`
	Problems []Problem `json:"problems,omitempty"`
}

// Has reports whether the report contains a problem of kind k.
func (r *Report) Has(k Kind) bool {
	for _, p := range r.Problems {
		if p.Kind == k {
			return true
		}
	}
	return false
}

// Kinds returns the distinct problem kinds in first-seen order.
func (r *Report) Kinds() []Kind {
	seen := make(map[Kind]bool)
	var out []Kind
	for _, p := range r.Problems {
		if !seen[p.Kind] {
			seen[p.Kind] = true
			out = append(out, p.Kind)
		}
	}
	return out
}

func (r *Report) add(k Kind, format string, args ...any) {
	r.Problems = append(r.Problems, Problem{Kind: k, Detail: fmt.Sprintf(format, args...)})
}

// maxIDProblems bounds per-id findings so a wholly broken index still
// yields a readable report.
const maxIDProblems = 20

// Verify checks the generation in dir. The report is always returned; the
// error is ErrVerifyFailed when any problem was found.
func Verify(dir string) (*Report, error) {
	l := Layout{Dir: dir}
	r := verifyArtifacts(l.Manifest(), l.Vectors(), l.Meta())
	r.Dir = dir
	return r, r.err()
}

func (r *Report) err() error {
	if r.OK {
		return nil
	}
	kinds := make([]string, 0, len(r.Problems))
	for _, k := range r.Kinds() {
		kinds = append(kinds, string(k))
	}
	return ierrors.New(ierrors.ErrCodeVerifyFailed,
		fmt.Sprintf("index verification failed: %s", strings.Join(kinds, ", ")), nil).
		WithSuggestion("run 'repoindex build --force' to rebuild")
}

// verifyArtifacts checks a manifest against the vectors and meta files at
// the given paths. The coordinator runs it on the temp generation before
// renaming.
func verifyArtifacts(manifestPath, vectorsPath, metaPath string) *Report {
	r := &Report{}
	defer func() { r.OK = len(r.Problems) == 0 }()

	m, err := ReadManifest(manifestPath)
	if err != nil {
		if errors.Is(err, ierrors.ErrNoIndex) {
			r.add(KindMissingManifest, "%s not found", manifestPath)
		} else {
			r.add(KindUnreadableArtifact, "manifest: %v", err)
		}
		return r
	}

	vecMissing := !exists(vectorsPath)
	metaMissing := !exists(metaPath)
	if vecMissing {
		r.add(KindMissingArtifact, "%s not found", vectorsPath)
	}
	if metaMissing {
		r.add(KindMissingArtifact, "%s not found", metaPath)
	}
	if vecMissing || metaMissing {
		return r
	}

	if sum, err := fileChecksum(vectorsPath); err != nil {
		r.add(KindUnreadableArtifact, "vectors: %v", err)
	} else if sum != m.Checksums.Vectors {
		r.add(KindVectorsChecksum, "manifest %s, file %s", short(m.Checksums.Vectors), short(sum))
	}
	if sum, err := fileChecksum(metaPath); err != nil {
		r.add(KindUnreadableArtifact, "meta: %v", err)
	} else if sum != m.Checksums.Meta {
		r.add(KindMetaChecksum, "manifest %s, file %s", short(m.Checksums.Meta), short(sum))
	}

	view, err := store.MapVectors(vectorsPath)
	if err != nil {
		r.add(KindUnreadableArtifact, "vectors: %v", err)
		return r
	}
	defer func() { _ = view.Close() }()

	records, err := store.LoadMeta(metaPath)
	if err != nil {
		r.add(KindUnreadableArtifact, "meta: %v", err)
		return r
	}

	r.Vectors = view.Count()
	r.Chunks = len(records)

	if view.Dim() != m.Dim {
		r.add(KindDimensionMismatch, "manifest dim %d, vectors dim %d", m.Dim, view.Dim())
	}
	if string(view.Metric()) != m.Metric {
		r.add(KindDimensionMismatch, "manifest metric %s, vectors metric %s", m.Metric, view.Metric())
	}

	vecIDs := make(map[uint64]bool, view.Count())
	idProblems := 0
	for i, id := range view.IDs() {
		if vecIDs[id] || (i > 0 && id <= view.ID(i-1)) {
			if idProblems < maxIDProblems {
				r.add(KindDuplicateID, "vectors id %d repeated or out of order", id)
			}
			idProblems++
		}
		vecIDs[id] = true
	}

	metaIDs := make(map[uint64]bool, len(records))
	paths := make(map[string]bool)
	for _, rec := range records {
		if metaIDs[rec.ID] {
			if idProblems < maxIDProblems {
				r.add(KindDuplicateID, "meta id %d repeated", rec.ID)
			}
			idProblems++
		}
		metaIDs[rec.ID] = true
		paths[rec.Path] = true
	}
	r.Files = len(paths)

	if m.Counts.Chunks != view.Count() || m.Counts.Chunks != len(records) {
		r.add(KindCountMismatch, "manifest chunks %d, vectors %d, meta %d", m.Counts.Chunks, view.Count(), len(records))
	}
	if m.Counts.Files != len(paths) {
		r.add(KindCountMismatch, "manifest files %d, meta files %d", m.Counts.Files, len(paths))
	}

	r.addOrphans(KindOrphanVector, vecIDs, metaIDs, "vector id %d has no meta record")
	r.addOrphans(KindOrphanMeta, metaIDs, vecIDs, "meta id %d has no vector")
	return r
}

// addOrphans reports ids in have that are absent from other.
func (r *Report) addOrphans(k Kind, have, other map[uint64]bool, format string) {
	var orphans []uint64
	for id := range have {
		if !other[id] {
			orphans = append(orphans, id)
		}
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i] < orphans[j] })
	for i, id := range orphans {
		if i == maxIDProblems {
			r.add(k, "%d more", len(orphans)-maxIDProblems)
			break
		}
		r.add(k, format, id)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
