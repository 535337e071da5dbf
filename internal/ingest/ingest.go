package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/receipt-intake/constants"
	"github.com/joseph-ayodele/receipt-intake/internal/pipeline"
)

// Processor runs one upload through the pipeline.
type Processor interface {
	Process(ctx context.Context, up pipeline.Upload) (pipeline.Outcome, error)
}

// FileResult is the per-file ingest outcome. Err is set for faults only;
// rejections and duplicates are regular outcomes.
type FileResult struct {
	Path    string           `json:"path"`
	Outcome pipeline.Outcome `json:"outcome"`
	Err     string           `json:"error,omitempty"`
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned       uint32
	Matched       uint32
	AutoCreated   uint32
	PendingReview uint32
	Duplicates    uint32
	Rejected      uint32
	Failed        uint32
}

func (s *DirStats) add(r FileResult) {
	if r.Err != "" {
		s.Failed++
		return
	}
	switch r.Outcome.Kind {
	case pipeline.KindAutoCreated:
		s.AutoCreated++
	case pipeline.KindPendingReview:
		s.PendingReview++
	case pipeline.KindDuplicateFound:
		s.Duplicates++
	case pipeline.KindRejected:
		s.Rejected++
	}
}

// Ingestor feeds local files to the pipeline on behalf of one owner.
type Ingestor struct {
	proc     Processor
	ownerID  string
	maxBytes int64
	logger   *slog.Logger
}

func NewIngestor(proc Processor, ownerID string, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{proc: proc, ownerID: ownerID, maxBytes: constants.MaxUploadBytes, logger: logger}
}

// IngestPath reads path and processes it. Files larger than the upload limit
// are not read past the limit; the validator rejects them.
func (in *Ingestor) IngestPath(ctx context.Context, path string) FileResult {
	start := time.Now()
	res := FileResult{Path: path}

	data, err := readCapped(path, in.maxBytes)
	if err != nil {
		in.logger.Error("ingest.read_failed", "path", path, "error", err)
		res.Err = err.Error()
		return res
	}

	out, err := in.proc.Process(ctx, pipeline.Upload{
		OwnerID:  in.ownerID,
		Filename: filepath.Base(path),
		Content:  data,
	})
	if err != nil {
		in.logger.Error("ingest.process_failed", "path", path, "error", err)
		res.Err = err.Error()
		return res
	}
	res.Outcome = out
	in.logger.Info("ingest.file.ok",
		"path", path,
		"outcome", out.Kind,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res
}

func readCapped(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !st.Mode().IsRegular() {
		return nil, errors.New("not a regular file")
	}
	// one byte over the limit is enough for the size check to reject
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
