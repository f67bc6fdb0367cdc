package pathfilter

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"time"
)

// Candidate is an eligible file found by Walk.
type Candidate struct {
	Path    string // slash-separated, relative to the root
	AbsPath string
	Size    int64
	ModTime time.Time
}

// Walk enumerates eligible files under the root in lexical path order.
// Unreadable entries are logged, skipped and returned as errors.
func (f *Filter) Walk(ctx context.Context) ([]Candidate, []error) {
	var (
		out  []Candidate
		errs []error
	)

	walkErr := filepath.WalkDir(f.root, func(abs string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rel, relErr := filepath.Rel(f.root, abs)
		if relErr != nil || rel == "." {
			if err != nil {
				return err
			}
			return nil
		}
		rel = filepath.ToSlash(rel)

		if err != nil {
			slog.Warn("walk_entry_unreadable", slog.String("path", rel), slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", rel, err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if f.SkipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 || !d.Type().IsRegular() {
			return nil
		}

		if dec := f.pathDecision(rel, false); !dec.Eligible {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			slog.Warn("walk_stat_failed", slog.String("path", rel), slog.String("error", infoErr.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", rel, infoErr))
			return nil
		}
		if info.Size() > f.maxSize {
			slog.Debug("walk_skip", slog.String("path", rel), slog.String("reason", ReasonTooLarge))
			return nil
		}

		head, headErr := readHead(abs)
		if headErr != nil {
			slog.Warn("walk_read_failed", slog.String("path", rel), slog.String("error", headErr.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", rel, headErr))
			return nil
		}
		if IsBinary(head) {
			slog.Debug("walk_skip", slog.String("path", rel), slog.String("reason", ReasonBinary))
			return nil
		}

		out = append(out, Candidate{
			Path:    rel,
			AbsPath: abs,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if walkErr != nil {
		errs = append(errs, walkErr)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, errs
}
