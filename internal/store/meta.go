package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
)

// maxMetaLine bounds a single meta.jsonl line.
const maxMetaLine = 4 << 20

// WriteMeta writes records to path as JSON lines in SortRecords order.
// The caller owns temp naming and renames.
func WriteMeta(path string, records []ChunkRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create meta file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := EncodeMeta(w, records); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to flush meta file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync meta file: %w", err)
	}
	return f.Close()
}

// EncodeMeta writes records as JSON lines in SortRecords order. The input
// slice is not modified.
func EncodeMeta(w io.Writer, records []ChunkRecord) error {
	sorted := append([]ChunkRecord(nil), records...)
	SortRecords(sorted)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i := range sorted {
		if err := enc.Encode(&sorted[i]); err != nil {
			return fmt.Errorf("failed to encode meta record %d: %w", sorted[i].ID, err)
		}
	}
	return nil
}

// LoadMeta reads meta.jsonl.
func LoadMeta(path string) ([]ChunkRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open meta file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return DecodeMeta(f)
}

// DecodeMeta parses JSON lines. Blank lines are skipped.
func DecodeMeta(r io.Reader) ([]ChunkRecord, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxMetaLine)

	var out []ChunkRecord
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec ChunkRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("meta line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read meta: %w", err)
	}
	return out, nil
}

// MetaIndex provides lookups over a loaded record set.
type MetaIndex struct {
	records []ChunkRecord
	byID    map[uint64]int
	byFile  map[string][]int
}

// NewMetaIndex indexes records. Later duplicates of an id shadow earlier ones.
func NewMetaIndex(records []ChunkRecord) *MetaIndex {
	m := &MetaIndex{
		records: records,
		byID:    make(map[uint64]int, len(records)),
		byFile:  make(map[string][]int),
	}
	for i, r := range records {
		m.byID[r.ID] = i
		m.byFile[r.Path] = append(m.byFile[r.Path], i)
	}
	return m
}

// Len returns the record count.
func (m *MetaIndex) Len() int { return len(m.records) }

// Records returns the underlying records.
func (m *MetaIndex) Records() []ChunkRecord { return m.records }

// ByID looks up a record.
func (m *MetaIndex) ByID(id uint64) (ChunkRecord, bool) {
	i, ok := m.byID[id]
	if !ok {
		return ChunkRecord{}, false
	}
	return m.records[i], true
}

// ByFile returns the records of path in stored order.
func (m *MetaIndex) ByFile(path string) []ChunkRecord {
	idx := m.byFile[path]
	out := make([]ChunkRecord, len(idx))
	for i, j := range idx {
		out[i] = m.records[j]
	}
	return out
}

// Paths returns the distinct file paths in sorted order.
func (m *MetaIndex) Paths() []string {
	out := make([]string, 0, len(m.byFile))
	for p := range m.byFile {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// FileHashes maps each path to the file hash recorded on its chunks.
func (m *MetaIndex) FileHashes() map[string]string {
	out := make(map[string]string, len(m.byFile))
	for p, idx := range m.byFile {
		out[p] = m.records[idx[0]].FileSHA256
	}
	return out
}
