// Package archive copies the event journal to object storage as JSON lines,
// so external observers can replay the exchange without database access.
//
// Objects are named by the sequence range they hold, which makes a retried
// upload overwrite rather than duplicate. A cursor object records the last
// archived sequence number.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/atmx/wager-engine/internal/metrics"
	"github.com/atmx/wager-engine/internal/model"
)

// ErrNotExist is returned by BlobStore.Get for a missing key.
var ErrNotExist = errors.New("archive: object does not exist")

// BlobStore is the object storage the archiver writes to.
type BlobStore interface {
	Put(ctx context.Context, key string, data io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// EventSource pages through the journal. *exchange.Engine satisfies it.
type EventSource interface {
	Events(ctx context.Context, after uint64, limit int) ([]model.Event, error)
}

// Archiver uploads journal events in batches.
type Archiver struct {
	src      EventSource
	blobs    BlobStore
	prefix   string
	batch    int
	interval time.Duration
	log      *slog.Logger

	cursor uint64
	loaded bool
}

// New creates an archiver. prefix is prepended to every object key.
func New(src EventSource, blobs BlobStore, prefix string, batch int, interval time.Duration, log *slog.Logger) *Archiver {
	if batch <= 0 {
		batch = 500
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Archiver{
		src:      src,
		blobs:    blobs,
		prefix:   prefix,
		batch:    batch,
		interval: interval,
		log:      log,
	}
}

// Cursor returns the sequence number of the last archived event.
func (a *Archiver) Cursor() uint64 { return a.cursor }

func (a *Archiver) cursorKey() string { return a.prefix + "CURSOR" }

// objectKey names a batch by its first and last sequence numbers, zero
// padded so keys sort in journal order.
func (a *Archiver) objectKey(first, last uint64) string {
	return fmt.Sprintf("%sevents-%020d-%020d.jsonl", a.prefix, first, last)
}

func (a *Archiver) loadCursor(ctx context.Context) error {
	rc, err := a.blobs.Get(ctx, a.cursorKey())
	if errors.Is(err, ErrNotExist) {
		a.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("archive: read cursor: %w", err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("archive: read cursor: %w", err)
	}
	seq, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return fmt.Errorf("archive: parse cursor %q: %w", raw, err)
	}
	a.cursor = seq
	a.loaded = true
	return nil
}

// Flush archives every event after the cursor and returns how many it
// uploaded. A failed upload leaves the cursor at the last complete batch.
func (a *Archiver) Flush(ctx context.Context) (int, error) {
	if !a.loaded {
		if err := a.loadCursor(ctx); err != nil {
			return 0, err
		}
	}

	total := 0
	for {
		events, err := a.src.Events(ctx, a.cursor, a.batch)
		if err != nil {
			return total, fmt.Errorf("archive: read events after %d: %w", a.cursor, err)
		}
		if len(events) == 0 {
			return total, nil
		}

		data, err := marshalJSONL(events)
		if err != nil {
			return total, fmt.Errorf("archive: marshal: %w", err)
		}
		first, last := events[0].Seq, events[len(events)-1].Seq
		key := a.objectKey(first, last)
		if err := a.blobs.Put(ctx, key, bytes.NewReader(data), "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("archive: upload %s: %w", key, err)
		}
		cursor := strconv.FormatUint(last, 10)
		if err := a.blobs.Put(ctx, a.cursorKey(), strings.NewReader(cursor), "text/plain"); err != nil {
			return total, fmt.Errorf("archive: write cursor: %w", err)
		}

		a.cursor = last
		total += len(events)
		metrics.EventsArchived.Add(float64(len(events)))
		a.log.Info("events archived", "key", key, "count", len(events), "cursor", last)

		if len(events) < a.batch {
			return total, nil
		}
	}
}

// Run flushes every interval until ctx is done. Flush errors are logged and
// retried on the next tick.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := a.Flush(ctx); err != nil && ctx.Err() == nil {
				a.log.Error("archive flush failed", "cursor", a.cursor, "err", err)
			}
		}
	}
}

func marshalJSONL(events []model.Event) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
