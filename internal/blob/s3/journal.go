package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/synthex/internal/domain"
)

// ExecutionSource is the slice of the execution store the journal reads when
// exporting.
type ExecutionSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionResult, error)
}

// Journal implements domain.Journal. Every execution is written as its own
// JSON object under executions/YYYY/MM/DD/{id}.json; ExportBefore writes a
// JSONL batch under exports/executions/. Rows are never deleted from the
// primary store here.
type Journal struct {
	store  domain.ArchiveStore
	source ExecutionSource
	audit  domain.AuditStore
}

const exportPrefix = "exports/executions/"

// NewJournal wires the journal. audit may be nil.
func NewJournal(store domain.ArchiveStore, source ExecutionSource, audit domain.AuditStore) *Journal {
	return &Journal{store: store, source: source, audit: audit}
}

// ArchiveExecution uploads one result. A later call with the same id (a
// pending result that confirmed) overwrites the object.
func (j *Journal) ArchiveExecution(ctx context.Context, res domain.ExecutionResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("s3blob: marshal execution %s: %w", res.ID, err)
	}
	path := executionPath(res)
	if err := j.store.Upload(ctx, path, bytes.NewReader(data), ContentTypeJSON, 0); err != nil {
		return fmt.Errorf("s3blob: archive execution %s: %w", res.ID, err)
	}
	return nil
}

// ExportBefore writes every execution created before the cutoff as one JSONL
// object and returns how many records it holds. An export that already
// exists for the same cutoff day is left untouched and reports zero.
func (j *Journal) ExportBefore(ctx context.Context, before time.Time) (int64, error) {
	path := exportPath(before)
	switch _, err := j.store.Stat(ctx, path); {
	case err == nil:
		return 0, nil
	case !errors.Is(err, domain.ErrNotFound):
		return 0, fmt.Errorf("s3blob: export check %s: %w", path, err)
	}

	records, err := j.source.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: export query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: export marshal: %w", err)
	}

	var partSize int64
	if int64(len(buf)) > minPartSize {
		partSize = minPartSize
	}
	if err := j.store.Upload(ctx, path, bytes.NewReader(buf), ContentTypeJSONL, partSize); err != nil {
		return 0, fmt.Errorf("s3blob: export upload: %w", err)
	}

	count := int64(len(records))
	if j.audit != nil {
		if err := j.audit.Log(ctx, "journal.export", map[string]any{
			"path":   path,
			"count":  count,
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: export audit log: %w", err)
		}
	}
	return count, nil
}

// Exports lists the batch exports written so far, oldest cutoff first.
func (j *Journal) Exports(ctx context.Context) ([]domain.ArchiveObject, error) {
	objs, err := j.store.Objects(ctx, exportPrefix)
	if err != nil {
		return nil, fmt.Errorf("s3blob: exports: %w", err)
	}
	return objs, nil
}

// ReadExport decodes the batch export for the given cutoff day. A day with
// no export yields domain.ErrNotFound.
func (j *Journal) ReadExport(ctx context.Context, day time.Time) ([]domain.ExecutionResult, error) {
	path := exportPath(day)
	body, err := j.store.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("s3blob: read export: %w", err)
	}
	defer body.Close()

	var out []domain.ExecutionResult
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for line := 1; sc.Scan(); line++ {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var res domain.ExecutionResult
		if err := json.Unmarshal(sc.Bytes(), &res); err != nil {
			return nil, fmt.Errorf("s3blob: %s line %d: %w", path, line, err)
		}
		out = append(out, res)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("s3blob: read %s: %w", path, err)
	}
	return out, nil
}

// executionPath partitions single results by creation day:
//
//	executions/2026/03/01/{id}.json
func executionPath(res domain.ExecutionResult) string {
	ts := res.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return fmt.Sprintf("executions/%s/%s.json", ts.UTC().Format("2006/01/02"), res.ID)
}

// exportPath names a batch export after its cutoff day:
//
//	exports/executions/2026-03-01.jsonl
func exportPath(before time.Time) string {
	return exportPrefix + before.UTC().Format("2006-01-02") + ".jsonl"
}

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

var _ domain.Journal = (*Journal)(nil)
