package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/predictlabs/settled/internal/domain"
	"github.com/predictlabs/settled/internal/store/memory"
)

// memBlob is an in-memory blob store used to test the archiver without S3.
type memBlob struct {
	objects map[string][]byte
}

func newMemBlob() *memBlob {
	return &memBlob{objects: make(map[string][]byte)}
}

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = buf
	return nil
}

func (m *memBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	buf, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}

func (m *memBlob) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo
	for path, buf := range m.objects {
		if strings.HasPrefix(path, prefix) {
			infos = append(infos, domain.BlobInfo{Path: path, Size: int64(len(buf))})
		}
	}
	return infos, nil
}

func (m *memBlob) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedResolvedEvent creates an initialized store holding one resolved event
// with two bets, returning the store and the event id.
func seedResolvedEvent(t *testing.T, endTime time.Time) (*memory.Store, int64) {
	t.Helper()
	ctx := context.Background()

	store := memory.New()
	if err := store.InitState(ctx, "0xadmin"); err != nil {
		t.Fatalf("init state: %v", err)
	}

	eventID, err := store.InsertEvent(ctx, domain.Event{
		Name:      "rain tomorrow",
		EndTime:   endTime.Unix(),
		CreatedBy: "0xadmin",
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("insert event: %v", err)
	}

	for _, b := range []domain.Bet{
		{EventID: eventID, Bettor: "0xaaa", Outcome: true, Amount: 100, PlacedAt: time.Now()},
		{EventID: eventID, Bettor: "0xbbb", Outcome: false, Amount: 50, PlacedAt: time.Now()},
	} {
		if _, err := store.ApplyBet(ctx, b); err != nil {
			t.Fatalf("apply bet: %v", err)
		}
	}

	if err := store.MarkResolved(ctx, eventID, true); err != nil {
		t.Fatalf("mark resolved: %v", err)
	}
	return store, eventID
}

func TestArchiveResolvedEvents(t *testing.T) {
	ctx := context.Background()
	endTime := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	store, eventID := seedResolvedEvent(t, endTime)

	blob := newMemBlob()
	arch := NewArchiver(blob, blob, store, testLogger())

	n, err := arch.ArchiveResolvedEvents(ctx, endTime.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if n != 1 {
		t.Fatalf("archived = %d, want 1", n)
	}

	path := "archive/events/2025-03/event-1.jsonl"
	buf, ok := blob.objects[path]
	if !ok {
		t.Fatalf("expected object at %s, have %v", path, blob.objects)
	}

	var kinds []string
	sc := bufio.NewScanner(bytes.NewReader(buf))
	for sc.Scan() {
		var rec eventRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		kinds = append(kinds, rec.Kind)
		if rec.Kind == "event" && rec.Event.ID != eventID {
			t.Fatalf("event line id = %d, want %d", rec.Event.ID, eventID)
		}
	}
	// One event line, two bet lines, two movement lines from the bet credits.
	want := []string{"event", "bet", "bet", "movement", "movement"}
	if len(kinds) != len(want) {
		t.Fatalf("lines = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("line %d kind = %q, want %q", i, kinds[i], want[i])
		}
	}
}

func TestArchiveSkipsExistingObjects(t *testing.T) {
	ctx := context.Background()
	endTime := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	store, _ := seedResolvedEvent(t, endTime)

	blob := newMemBlob()
	arch := NewArchiver(blob, blob, store, testLogger())

	cutoff := endTime.Add(24 * time.Hour)
	if _, err := arch.ArchiveResolvedEvents(ctx, cutoff); err != nil {
		t.Fatalf("first run: %v", err)
	}
	n, err := arch.ArchiveResolvedEvents(ctx, cutoff)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if n != 0 {
		t.Fatalf("second run archived = %d, want 0", n)
	}
}

func TestArchiveIgnoresUnresolvedAndRecentEvents(t *testing.T) {
	ctx := context.Background()
	endTime := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	store, _ := seedResolvedEvent(t, endTime)

	// Unresolved event on the same store, old deadline.
	if _, err := store.InsertEvent(ctx, domain.Event{
		Name:    "still open",
		EndTime: endTime.Unix(),
	}); err != nil {
		t.Fatalf("insert event: %v", err)
	}

	blob := newMemBlob()
	arch := NewArchiver(blob, blob, store, testLogger())

	// Cutoff before the deadline: nothing qualifies.
	n, err := arch.ArchiveResolvedEvents(ctx, endTime.Add(-time.Hour))
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if n != 0 {
		t.Fatalf("archived = %d, want 0", n)
	}

	// Cutoff after the deadline: only the resolved event qualifies.
	n, err = arch.ArchiveResolvedEvents(ctx, endTime.Add(time.Hour))
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if n != 1 {
		t.Fatalf("archived = %d, want 1", n)
	}
}
