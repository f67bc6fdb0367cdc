package store

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
)

// vectors.hnsw layout, all integers little-endian:
//
//	magic "RIDX" | version u16 | metric u8 | flags u8 | dim u32 |
//	count u64 | nextKey u64 | reserved u32          (32 bytes)
//	ids      count x u64, ascending
//	keys     count x u64, graph key or noKey
//	vectors  count x dim x f32, row i belongs to ids[i]
//	graph    coder/hnsw export (present when flagGraph is set)
const (
	vectorsMagic   = "RIDX"
	vectorsVersion = 1
	headerSize     = 32

	flagGraph = 1 << 0

	noKey = math.MaxUint64
)

// ErrCorruptVectors is returned when vectors.hnsw cannot be parsed.
var ErrCorruptVectors = errors.New("corrupt vectors file")

func metricCode(m Metric) uint8 {
	if m == MetricIP {
		return 1
	}
	return 0
}

func metricFromCode(c uint8) (Metric, error) {
	switch c {
	case 0:
		return MetricCosine, nil
	case 1:
		return MetricIP, nil
	}
	return "", fmt.Errorf("%w: unknown metric code %d", ErrCorruptVectors, c)
}

// Save writes the store to path. The caller owns temp naming and renames.
func (s *HNSWStore) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create vectors file: %w", err)
	}

	w := bufio.NewWriterSize(f, 1<<20)
	if err := s.Encode(w); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to flush vectors file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync vectors file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close vectors file: %w", err)
	}
	return nil
}

// Encode writes the store in the vectors.hnsw format. The graph is
// compacted first when lazily removed nodes outnumber a quarter of the
// live ones.
func (s *HNSWStore) Encode(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if orphans := s.graph.Len() - len(s.idMap); orphans > 0 && orphans*4 > len(s.idMap) {
		slog.Debug("vectors_compact", slog.Int("orphans", orphans), slog.Int("live", len(s.idMap)))
		s.rebuildLocked()
	}

	ids := s.sortedIDsLocked()

	var flags uint8
	if s.graph.Len() > 0 {
		flags |= flagGraph
	}

	hdr := make([]byte, headerSize)
	copy(hdr[0:4], vectorsMagic)
	binary.LittleEndian.PutUint16(hdr[4:6], vectorsVersion)
	hdr[6] = metricCode(s.cfg.Metric)
	hdr[7] = flags
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(s.cfg.Dimensions))
	binary.LittleEndian.PutUint64(hdr[12:20], uint64(len(ids)))
	binary.LittleEndian.PutUint64(hdr[20:28], s.nextKey)
	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("failed to write vectors header: %w", err)
	}

	buf := make([]byte, 8)
	for _, id := range ids {
		binary.LittleEndian.PutUint64(buf, id)
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("failed to write ids: %w", err)
		}
	}
	for _, id := range ids {
		key, ok := s.idMap[id]
		if !ok {
			key = noKey
		}
		binary.LittleEndian.PutUint64(buf, key)
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("failed to write keys: %w", err)
		}
	}

	row := make([]byte, 4*s.cfg.Dimensions)
	for _, id := range ids {
		for i, x := range s.vectors[id] {
			binary.LittleEndian.PutUint32(row[4*i:], math.Float32bits(x))
		}
		if _, err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write vectors: %w", err)
		}
	}

	if flags&flagGraph != 0 {
		if err := s.graph.Export(w); err != nil {
			return fmt.Errorf("failed to export graph: %w", err)
		}
	}
	return nil
}

// LoadHNSW reads a store from path. Dimensions and metric come from the
// file; M, EfSearch and ExactBelow from cfg. A graph section that does not
// import is rebuilt from the raw vectors.
func LoadHNSW(path string, cfg HNSWConfig) (*HNSWStore, error) {
	view, err := MapVectors(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = view.Close() }()
	return LoadView(view, cfg)
}

// LoadView builds a store from an open view. The view may be closed once
// LoadView returns.
func LoadView(view *VectorsView, cfg HNSWConfig) (*HNSWStore, error) {
	cfg.Dimensions = view.Dim()
	cfg.Metric = view.Metric()
	s, err := NewHNSWStore(cfg)
	if err != nil {
		return nil, err
	}

	for i := 0; i < view.Count(); i++ {
		id := view.ID(i)
		s.vectors[id] = view.Row(i)
		if key := view.Key(i); key != noKey {
			s.idMap[id] = key
			s.keyMap[key] = id
		}
	}
	s.nextKey = view.nextKey()

	if view.hasGraph() {
		g := newGraph(s.cfg)
		if err := g.Import(bytes.NewReader(view.graphSection())); err != nil || g.Len() < len(s.idMap) {
			slog.Warn("vectors_graph_rebuild", slog.Int("vectors", view.Count()), slog.Any("import_error", err))
			s.rebuildLocked()
			return s, nil
		}
		g.EfSearch = s.cfg.EfSearch
		s.graph = g
	} else if len(s.idMap) > 0 {
		s.rebuildLocked()
	}
	return s, nil
}

// VectorsView is a read-only view of a vectors.hnsw file. On unix the file
// is memory-mapped; the view must be closed by its holder and is never
// written through.
type VectorsView struct {
	data   []byte
	unmap  func() error
	metric Metric
	dim    int
	count  int
}

// MapVectors opens path as a VectorsView and validates its layout.
func MapVectors(path string) (*VectorsView, error) {
	data, unmap, err := mapFile(path)
	if err != nil {
		return nil, err
	}
	v := &VectorsView{data: data, unmap: unmap}
	if err := v.parse(); err != nil {
		_ = v.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

func (v *VectorsView) parse() error {
	if len(v.data) < headerSize || string(v.data[0:4]) != vectorsMagic {
		return fmt.Errorf("%w: bad magic", ErrCorruptVectors)
	}
	if ver := binary.LittleEndian.Uint16(v.data[4:6]); ver != vectorsVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorruptVectors, ver)
	}
	metric, err := metricFromCode(v.data[6])
	if err != nil {
		return err
	}
	dim := binary.LittleEndian.Uint32(v.data[8:12])
	count := binary.LittleEndian.Uint64(v.data[12:20])
	if dim == 0 || dim > 1<<16 {
		return fmt.Errorf("%w: dimension %d", ErrCorruptVectors, dim)
	}
	need := uint64(headerSize) + count*16 + count*uint64(dim)*4
	if count > uint64(len(v.data)) || need > uint64(len(v.data)) {
		return fmt.Errorf("%w: truncated (count %d, dim %d, size %d)", ErrCorruptVectors, count, dim, len(v.data))
	}
	v.metric = metric
	v.dim = int(dim)
	v.count = int(count)
	return nil
}

// Count returns the number of stored vectors.
func (v *VectorsView) Count() int { return v.count }

// Dim returns the vector dimension.
func (v *VectorsView) Dim() int { return v.dim }

// Metric returns the stored metric.
func (v *VectorsView) Metric() Metric { return v.metric }

// ID returns the id of row i.
func (v *VectorsView) ID(i int) uint64 {
	off := headerSize + 8*i
	return binary.LittleEndian.Uint64(v.data[off:])
}

// IDs returns all ids in file order.
func (v *VectorsView) IDs() []uint64 {
	out := make([]uint64, v.count)
	for i := range out {
		out[i] = v.ID(i)
	}
	return out
}

// Key returns the graph key of row i.
func (v *VectorsView) Key(i int) uint64 {
	off := headerSize + 8*v.count + 8*i
	return binary.LittleEndian.Uint64(v.data[off:])
}

// Row decodes row i into a new slice.
func (v *VectorsView) Row(i int) []float32 {
	off := v.vectorsOffset() + 4*v.dim*i
	out := make([]float32, v.dim)
	for j := range out {
		out[j] = math.Float32frombits(binary.LittleEndian.Uint32(v.data[off+4*j:]))
	}
	return out
}

// Checksum returns the sha256 hex digest of the mapped file.
func (v *VectorsView) Checksum() string {
	sum := sha256.Sum256(v.data)
	return hex.EncodeToString(sum[:])
}

// Close releases the mapping.
func (v *VectorsView) Close() error {
	if v.unmap == nil {
		return nil
	}
	err := v.unmap()
	v.unmap = nil
	v.data = nil
	return err
}

func (v *VectorsView) vectorsOffset() int { return headerSize + 16*v.count }

func (v *VectorsView) nextKey() uint64 { return binary.LittleEndian.Uint64(v.data[20:28]) }

func (v *VectorsView) hasGraph() bool { return v.data[7]&flagGraph != 0 }

func (v *VectorsView) graphSection() []byte {
	return v.data[v.vectorsOffset()+4*v.dim*v.count:]
}
