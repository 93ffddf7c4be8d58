package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

const (
	contentTypeJSONL = "application/x-ndjson"

	// multipartThreshold switches uploads to the transfer manager.
	multipartThreshold = 8 * 1024 * 1024
)

// Pruner deletes rows from the primary store once they are archived.
type Pruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Sources are the primary stores the archiver drains. Any pruner may be nil,
// in which case archived rows are kept.
type Sources struct {
	Costs       domain.CostSampleStore
	LegAttempts domain.LegAttemptStore
	Audit       domain.AuditStore

	CostPruner  Pruner
	LegPruner   Pruner
	AuditPruner Pruner
}

// Archiver implements domain.Archiver: it exports rows older than a cutoff
// as JSONL objects under archive/{kind}/{yyyy-mm}/{cutoff}.jsonl and records
// each export in the audit log.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	src    Sources
	logger *slog.Logger
}

// NewArchiver creates an Archiver. reader may be nil; when set, an object
// already present for the same cutoff is not overwritten.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, src Sources, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		src:    src,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveCostSamples exports cost samples recorded before the cutoff.
func (a *Archiver) ArchiveCostSamples(ctx context.Context, before time.Time) (int64, error) {
	if a.src.Costs == nil {
		return 0, nil
	}
	rows, err := a.src.Costs.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive cost samples query: %w", err)
	}
	return archive(ctx, a, "cost_samples", before, rows, a.src.CostPruner)
}

// ArchiveLegAttempts exports leg attempts recorded before the cutoff.
func (a *Archiver) ArchiveLegAttempts(ctx context.Context, before time.Time) (int64, error) {
	if a.src.LegAttempts == nil {
		return 0, nil
	}
	rows, err := a.src.LegAttempts.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive leg attempts query: %w", err)
	}
	return archive(ctx, a, "leg_attempts", before, rows, a.src.LegPruner)
}

// ArchiveAudit exports audit entries written before the cutoff. The export
// event itself is logged after the cutoff, so it is never folded into the
// object it describes.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	if a.src.Audit == nil {
		return 0, nil
	}
	rows, err := a.src.Audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	return archive(ctx, a, "audit", before, rows, a.src.AuditPruner)
}

// RunOnce archives all three kinds at cutoff, continuing past failures.
func (a *Archiver) RunOnce(ctx context.Context, before time.Time) error {
	jobs := []struct {
		kind string
		fn   func(context.Context, time.Time) (int64, error)
	}{
		{"cost_samples", a.ArchiveCostSamples},
		{"leg_attempts", a.ArchiveLegAttempts},
		{"audit", a.ArchiveAudit},
	}
	var firstErr error
	for _, job := range jobs {
		kind := job.kind
		n, err := job.fn(ctx, before)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive failed", slog.String("kind", kind), slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if n > 0 {
			a.logger.InfoContext(ctx, "archived", slog.String("kind", kind), slog.Int64("count", n))
		}
	}
	return firstErr
}

// Run archives everything older than retention every interval until ctx ends.
func (a *Archiver) Run(ctx context.Context, interval, retention time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			_ = a.RunOnce(ctx, now.Add(-retention).UTC())
		}
	}
}

func archive[T any](ctx context.Context, a *Archiver, kind string, before time.Time, rows []T, prune Pruner) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)
	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive %s: %w", kind, err)
		}
		if exists {
			a.logger.WarnContext(ctx, "archive object exists, skipping", slog.String("path", path))
			return 0, nil
		}
	}

	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(rows))
	detail := map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}
	if prune != nil {
		deleted, err := prune.DeleteBefore(ctx, before)
		if err != nil {
			return count, fmt.Errorf("s3blob: archive %s prune: %w", kind, err)
		}
		detail["deleted"] = deleted
	}
	if a.src.Audit != nil {
		if err := a.src.Audit.Log(ctx, "archive."+kind, detail); err != nil {
			return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
		}
	}
	return count, nil
}

// archivePath partitions by month and names the object after the cutoff:
//
//	archive/cost_samples/2026-01/20260115T000000Z.jsonl
func archivePath(kind string, before time.Time) string {
	before = before.UTC()
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, before.Format("2006-01"), before.Format("20060102T150405Z"))
}

// marshalJSONL encodes one compact JSON value per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
