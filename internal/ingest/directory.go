package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/joseph-ayodele/receipt-intake/internal/async"
)

// DirOptions controls a directory ingest.
type DirOptions struct {
	SkipHidden bool
	Workers    int
	QueueSize  int
}

// IngestDirectory walks root and processes every supported file on a bounded
// worker pool. Results are sorted by path.
func (in *Ingestor) IngestDirectory(ctx context.Context, root string, opts DirOptions) ([]FileResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}

	var (
		mu      sync.Mutex
		results []FileResult
		stats   DirStats
	)
	record := func(r FileResult) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, r)
		stats.add(r)
	}

	q := async.NewProcessorQueue(func(ctx context.Context, job async.Job) {
		record(in.IngestPath(ctx, job.Path))
	}, in.logger, async.WithWorkers(opts.Workers), async.WithQueueSize(opts.QueueSize), async.WithContext(ctx))

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		mu.Lock()
		stats.Scanned++
		mu.Unlock()
		if err != nil {
			record(FileResult{Path: path, Err: err.Error()})
			return nil // continue walking
		}
		if opts.SkipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !AllowedExt(filepath.Ext(path)) {
			return nil
		}
		mu.Lock()
		stats.Matched++
		mu.Unlock()
		return q.Enqueue(ctx, async.Job{Path: path, OwnerID: in.ownerID})
	})
	q.Shutdown(context.Background())

	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	if walkErr != nil {
		return results, stats, fmt.Errorf("walk: %w", walkErr)
	}
	return results, stats, nil
}
