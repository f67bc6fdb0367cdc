package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	ierrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/store"
)

// A build renames vectors, meta and manifest in sequence, so a reader can
// briefly see artifacts from two generations. Loads are retried.
const (
	loadAttempts   = 4
	loadRetryDelay = 50 * time.Millisecond
)

// Generation is a loaded, checksum-verified index.
type Generation struct {
	Manifest *Manifest
	Meta     *store.MetaIndex
	Vectors  *store.HNSWStore
}

// LoadGeneration loads the generation described by the current manifest.
// Artifacts whose checksums do not match the manifest are retried a few
// times before ErrCorruptIndex is returned.
func LoadGeneration(ctx context.Context, l Layout) (*Generation, error) {
	var lastErr error
	for attempt := 0; attempt < loadAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(loadRetryDelay):
			}
		}

		gen, err := loadOnce(l)
		if err == nil {
			return gen, nil
		}
		if errors.Is(err, ierrors.ErrNoIndex) {
			return nil, err
		}
		lastErr = err
		slog.Debug("generation_load_retry", slog.Int("attempt", attempt+1), slog.String("error", err.Error()))
	}
	return nil, ierrors.New(ierrors.ErrCodeCorruptIndex, "index artifacts do not match the manifest", lastErr).
		WithSuggestion("run 'repoindex verify', then 'repoindex build --force'")
}

// loadOnce checksums the exact bytes it parses, so a rename racing with the
// load is caught by the comparison rather than producing a mixed result.
func loadOnce(l Layout) (*Generation, error) {
	m, err := ReadManifest(l.Manifest())
	if err != nil {
		return nil, err
	}

	view, err := store.MapVectors(l.Vectors())
	if err != nil {
		return nil, err
	}
	defer func() { _ = view.Close() }()
	if sum := view.Checksum(); sum != m.Checksums.Vectors {
		return nil, fmt.Errorf("%s: vectors checksum %s, manifest %s", KindVectorsChecksum, short(sum), short(m.Checksums.Vectors))
	}

	metaData, err := os.ReadFile(l.Meta())
	if err != nil {
		return nil, fmt.Errorf("failed to read meta: %w", err)
	}
	if sum := bytesChecksum(metaData); sum != m.Checksums.Meta {
		return nil, fmt.Errorf("%s: meta checksum %s, manifest %s", KindMetaChecksum, short(sum), short(m.Checksums.Meta))
	}
	records, err := store.DecodeMeta(bytes.NewReader(metaData))
	if err != nil {
		return nil, err
	}

	vectors, err := store.LoadView(view, store.DefaultHNSWConfig(view.Dim(), view.Metric()))
	if err != nil {
		return nil, err
	}
	if vectors.Len() != len(records) {
		return nil, fmt.Errorf("%s: %d vectors, %d meta records", KindCountMismatch, vectors.Len(), len(records))
	}

	return &Generation{
		Manifest: m,
		Meta:     store.NewMetaIndex(records),
		Vectors:  vectors,
	}, nil
}
