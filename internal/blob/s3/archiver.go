package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/yieldbet/internal/domain"
)

// multipartThreshold is the archive size above which uploads go through the
// multipart manager.
const multipartThreshold = 64 * 1024 * 1024

// PoolArchiveStore is the part of the pool store the archiver reads and
// updates.
type PoolArchiveStore interface {
	ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.PoolSnapshot, error)
	ListTickets(ctx context.Context, pool common.Address) ([]domain.Ticket, error)
	MarkArchived(ctx context.Context, pool common.Address, at time.Time) error
}

// EventArchiveStore reads a pool's event log.
type EventArchiveStore interface {
	ListByPool(ctx context.Context, pool common.Address, opts domain.ListOpts) ([]domain.Event, error)
}

// PoolRecord is one JSONL line of a pool archive.
type PoolRecord struct {
	Pool    domain.PoolSnapshot `json:"pool"`
	Tickets []domain.Ticket     `json:"tickets"`
	Events  []domain.Event      `json:"events"`
}

// PoolArchiver implements domain.Archiver. It copies resolved pools with
// their tickets and events to the bucket and then flags them archived.
// Rows are never deleted from the primary store here.
type PoolArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	pools  PoolArchiveStore
	events EventArchiveStore
	audit  domain.AuditStore
	now    func() time.Time
}

// NewArchiver creates a PoolArchiver. reader may be nil, in which case an
// existing archive object for the same month is overwritten instead of
// extended.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	pools PoolArchiveStore,
	events EventArchiveStore,
	audit domain.AuditStore,
) *PoolArchiver {
	return &PoolArchiver{
		writer: writer,
		reader: reader,
		pools:  pools,
		events: events,
		audit:  audit,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ArchivePools archives every pool resolved before the cutoff that has not
// been archived yet and returns how many were written.
func (a *PoolArchiver) ArchivePools(ctx context.Context, before time.Time) (int64, error) {
	snaps, err := a.pools.ListResolvedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive pools query: %w", err)
	}
	if len(snaps) == 0 {
		return 0, nil
	}

	records := make([]PoolRecord, 0, len(snaps))
	for _, snap := range snaps {
		tickets, err := a.pools.ListTickets(ctx, snap.Address)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive pools tickets %s: %w", snap.Address.Hex(), err)
		}
		events, err := a.events.ListByPool(ctx, snap.Address, domain.ListOpts{})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive pools events %s: %w", snap.Address.Hex(), err)
		}
		records = append(records, PoolRecord{Pool: snap, Tickets: tickets, Events: events})
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive pools marshal: %w", err)
	}

	path := archivePath("pools", before)
	existing, err := a.existing(ctx, path)
	if err != nil {
		return 0, err
	}
	body := append(existing, buf...)

	if len(body) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(body), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(body), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive pools upload: %w", err)
	}

	at := a.now()
	for _, snap := range snaps {
		if err := a.pools.MarkArchived(ctx, snap.Address, at); err != nil {
			return 0, fmt.Errorf("s3blob: archive pools mark %s: %w", snap.Address.Hex(), err)
		}
	}

	count := int64(len(records))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.pools", map[string]any{
			"path":   path,
			"count":  count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive pools audit log: %w", err)
		}
	}
	return count, nil
}

// existing returns the current content at path, or nil when there is none.
func (a *PoolArchiver) existing(ctx context.Context, path string) ([]byte, error) {
	if a.reader == nil {
		return nil, nil
	}
	ok, err := a.reader.Exists(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("s3blob: archive pools head: %w", err)
	}
	if !ok {
		return nil, nil
	}
	rc, err := a.reader.Get(ctx, path)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("s3blob: archive pools read: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("s3blob: archive pools read: %w", err)
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}
	return data, nil
}

// archivePath returns archive/{kind}/YYYY-MM.jsonl for the cutoff month.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

// marshalJSONL encodes items as newline-delimited JSON.
func marshalJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range items {
		if err := enc.Encode(items[i]); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
