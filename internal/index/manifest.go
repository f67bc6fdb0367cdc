package index

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	ierrors "github.com/Aman-CERP/repoindex/internal/errors"
)

// Manifest schema and engine identifiers.
const (
	IndexVersion = 1
	EngineName   = "repoindex-hnsw"
)

// Manifest describes one complete generation.
type Manifest struct {
	IndexVersion int         `json:"index_version"`
	Engine       string      `json:"engine"`
	Model        string      `json:"model"`
	Dim          int         `json:"dim"`
	Metric       string      `json:"metric"`
	ChunkMode    string      `json:"chunk_mode"`
	Chunk        ChunkParams `json:"chunk"`
	// Filter is the path filter fingerprint the generation was built with.
	Filter       string      `json:"filter,omitempty"`
	Repo         RepoInfo    `json:"repo"`
	Counts       Counts      `json:"counts"`
	Checksums    Checksums   `json:"checksums"`
	CreatedAt    time.Time   `json:"created_at"`
	LastRefresh  time.Time   `json:"last_refresh"`
}

// ChunkParams records the chunk window used for the generation.
type ChunkParams struct {
	Lines   int `json:"lines"`
	Overlap int `json:"overlap"`
}

// RepoInfo records where the generation came from.
type RepoInfo struct {
	Root     string `json:"root"`
	Revision string `json:"revision"`
}

// Counts are the file and chunk totals of a generation.
type Counts struct {
	Files  int `json:"files"`
	Chunks int `json:"chunks"`
}

// Checksums are sha256 hex digests of the persisted artifacts.
type Checksums struct {
	Vectors string `json:"vectors"`
	Meta    string `json:"meta"`
}

// ReadManifest loads a manifest. A missing file yields ErrNoIndex.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ierrors.New(ierrors.ErrCodeNoIndex, "no index found", err).
				WithSuggestion("run 'repoindex build' first")
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, ierrors.New(ierrors.ErrCodeCorruptIndex, "manifest is not valid JSON", err).
			WithDetail("path", path)
	}
	return &m, nil
}

// WriteManifest writes m to path through a temp file and rename.
func WriteManifest(path string, m *Manifest) error {
	tmp := tmpPath(path)
	if err := writeManifestFile(tmp, m); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename manifest: %w", err)
	}
	return nil
}

func writeManifestFile(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	data = append(data, '\n')

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync manifest: %w", err)
	}
	return f.Close()
}

// Compatible returns ErrConfigMismatch when the generation was built with a
// different model, dimension or metric.
func (m *Manifest) Compatible(model string, dim int, metric string) error {
	var field, have, want string
	switch {
	case m.IndexVersion != IndexVersion:
		field, have, want = "index_version", fmt.Sprint(m.IndexVersion), fmt.Sprint(IndexVersion)
	case m.Model != model:
		field, have, want = "model", m.Model, model
	case m.Dim != dim:
		field, have, want = "dim", fmt.Sprint(m.Dim), fmt.Sprint(dim)
	case m.Metric != metric:
		field, have, want = "metric", m.Metric, metric
	default:
		return nil
	}
	return ierrors.New(ierrors.ErrCodeConfigMismatch,
		fmt.Sprintf("index %s is %s, configuration wants %s", field, have, want), nil).
		WithDetail("field", field).
		WithSuggestion("run 'repoindex build --force' to rebuild")
}

// sameChunking reports whether the generation used the given chunk settings.
func (m *Manifest) sameChunking(mode string, lines, overlap int) bool {
	return m.ChunkMode == mode && m.Chunk.Lines == lines && m.Chunk.Overlap == overlap
}

// fileChecksum returns the sha256 hex digest of a file.
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func bytesChecksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
