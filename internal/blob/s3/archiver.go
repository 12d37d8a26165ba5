package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/predictlabs/settled/internal/domain"
)

// ArchiveStore is the narrow read surface the archiver needs: resolved
// events, their bets, and their custody trail. The settlement stores satisfy
// it implicitly.
type ArchiveStore interface {
	ListResolvedEventsBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Event, error)
	ListBetsByEvent(ctx context.Context, eventID int64, opts domain.ListOpts) ([]domain.Bet, error)
	PoolMovements(ctx context.Context, eventID int64, opts domain.ListOpts) ([]domain.PoolMovement, error)
}

// archiveBatchSize is the page size used when walking events and their bets.
const archiveBatchSize = 500

// ArchiveImpl implements domain.Archiver by copying settled events, their
// bets, and their custody trail to object storage as JSONL.
//
// Records are never deleted from the primary store. The archive is a closed
// copy of each settled ledger: one object per event, written once and then
// skipped on later runs.
type ArchiveImpl struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	store  ArchiveStore
	logger *slog.Logger
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, store ArchiveStore, logger *slog.Logger) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		reader: reader,
		store:  store,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// eventRecord is the JSONL envelope written for each archived line.
type eventRecord struct {
	Kind     string               `json:"kind"` // "event", "bet", or "movement"
	Event    *domain.Event        `json:"event,omitempty"`
	Bet      *domain.Bet          `json:"bet,omitempty"`
	Movement *domain.PoolMovement `json:"movement,omitempty"`
}

// ArchiveResolvedEvents walks resolved events whose betting deadline precedes
// the cutoff and uploads one JSONL object per event. Events that already have
// an archive object are skipped, so the scan is safe to re-run. It returns
// the number of events archived in this run.
func (a *ArchiveImpl) ArchiveResolvedEvents(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.store.ListResolvedEventsBefore(ctx, before, archiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query: %w", err)
	}

	var archived int64
	for _, ev := range events {
		path := archivePath(ev)

		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return archived, fmt.Errorf("s3blob: archive check %s: %w", path, err)
		}
		if exists {
			continue
		}

		buf, err := a.buildArchive(ctx, ev)
		if err != nil {
			return archived, err
		}

		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return archived, fmt.Errorf("s3blob: archive upload %s: %w", path, err)
		}
		archived++

		a.logger.InfoContext(ctx, "event archived",
			slog.Int64("event_id", ev.ID),
			slog.String("path", path),
		)
	}

	return archived, nil
}

// buildArchive serializes one event, all its bets, and its custody trail as
// newline-delimited JSON.
func (a *ArchiveImpl) buildArchive(ctx context.Context, ev domain.Event) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(eventRecord{Kind: "event", Event: &ev}); err != nil {
		return nil, fmt.Errorf("s3blob: archive encode event %d: %w", ev.ID, err)
	}

	for offset := 0; ; offset += archiveBatchSize {
		bets, err := a.store.ListBetsByEvent(ctx, ev.ID, domain.ListOpts{
			Limit:  archiveBatchSize,
			Offset: offset,
		})
		if err != nil {
			return nil, fmt.Errorf("s3blob: archive bets for event %d: %w", ev.ID, err)
		}
		for i := range bets {
			if err := enc.Encode(eventRecord{Kind: "bet", Bet: &bets[i]}); err != nil {
				return nil, fmt.Errorf("s3blob: archive encode bet %d: %w", bets[i].ID, err)
			}
		}
		if len(bets) < archiveBatchSize {
			break
		}
	}

	for offset := 0; ; offset += archiveBatchSize {
		moves, err := a.store.PoolMovements(ctx, ev.ID, domain.ListOpts{
			Limit:  archiveBatchSize,
			Offset: offset,
		})
		if err != nil {
			return nil, fmt.Errorf("s3blob: archive movements for event %d: %w", ev.ID, err)
		}
		for i := range moves {
			if err := enc.Encode(eventRecord{Kind: "movement", Movement: &moves[i]}); err != nil {
				return nil, fmt.Errorf("s3blob: archive encode movement %d: %w", moves[i].ID, err)
			}
		}
		if len(moves) < archiveBatchSize {
			break
		}
	}

	return buf.Bytes(), nil
}

// archivePath builds the object key for an event's archive, partitioned by
// the year-month of its betting deadline:
//
//	archive/events/2025-01/event-42.jsonl
func archivePath(ev domain.Event) string {
	month := time.Unix(ev.EndTime, 0).UTC().Format("2006-01")
	return fmt.Sprintf("archive/events/%s/event-%d.jsonl", month, ev.ID)
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
