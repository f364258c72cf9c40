// Package replay finds recorded sessions on disk and plays them back through
// the control loop with their original timing.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gwillem/armcollect/pkg/logging"
	"github.com/gwillem/armcollect/pkg/recording"
)

// Recording describes an archive found on disk.
type Recording struct {
	Filename string
	Path     string
	Size     int64
	ModTime  time.Time
	// Date is parsed from the archive timestamp.
	Date time.Time
	recording.Header
}

// ListOptions configures List.
type ListOptions struct {
	// Catalog caches headers between runs. Optional.
	Catalog *Catalog
	Logger  *slog.Logger
}

// List returns the readable archives in dir, newest file name first.
// Archives that cannot be read are logged and skipped. A missing
// directory yields no recordings.
func List(ctx context.Context, dir string, opts ListOptions) ([]Recording, error) {
	logger := logging.NewComponentLogger(opts.Logger, "replay")

	paths, err := filepath.Glob(filepath.Join(dir, "*"+recording.ArchiveExt))
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))

	out := make([]Recording, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := describe(ctx, path, opts.Catalog, logger)
		if err != nil {
			logger.Warn("skipping unreadable recording",
				logging.String(logging.FieldPath, path),
				logging.Error(err),
				logging.String(logging.FieldEventType, "recording_skipped"),
			)
			continue
		}
		out = append(out, rec)
	}

	if opts.Catalog != nil {
		if n, err := opts.Catalog.Prune(ctx, dir, paths); err != nil {
			logger.Warn("failed to prune recording catalog", logging.Error(err))
		} else if n > 0 {
			logger.Debug("pruned recording catalog", logging.Int("removed", int(n)))
		}
	}
	return out, nil
}

func describe(ctx context.Context, path string, catalog *Catalog, logger *slog.Logger) (Recording, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Recording{}, err
	}
	rec := Recording{
		Filename: filepath.Base(path),
		Path:     path,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	}

	cached := false
	if catalog != nil {
		h, ok, err := catalog.Get(ctx, path, info.Size(), info.ModTime())
		if err != nil {
			logger.Debug("catalog lookup failed", logging.String(logging.FieldPath, path), logging.Error(err))
		}
		if ok {
			rec.Header, cached = h, true
		}
	}
	if !cached {
		h, err := recording.ReadHeader(path)
		if err != nil {
			return Recording{}, err
		}
		rec.Header = h
	}

	date, err := rec.Header.Time()
	if err != nil {
		return Recording{}, fmt.Errorf("%w: %s: bad timestamp %q", recording.ErrMalformedArchive, path, rec.Timestamp)
	}
	rec.Date = date

	if catalog != nil && !cached {
		if err := catalog.Put(ctx, path, info.Size(), info.ModTime(), rec.Header); err != nil {
			logger.Debug("catalog update failed", logging.String(logging.FieldPath, path), logging.Error(err))
		}
	}
	return rec, nil
}

// Load decodes the archive at path for playback. Camera frames are skipped.
func Load(path string) (*recording.Session, error) {
	s, err := recording.ReadArchive(path, recording.ReadOptions{})
	if err != nil {
		return nil, err
	}
	if len(s.Episodes) == 0 {
		return nil, fmt.Errorf("%w: %s: no episodes", recording.ErrMalformedArchive, path)
	}
	for i := range s.Episodes {
		if s.Episodes[i].Len() == 0 {
			return nil, fmt.Errorf("%w: %s: episode %d is empty", recording.ErrMalformedArchive, path, i)
		}
	}
	return s, nil
}
