package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polycopy/internal/domain"
	"github.com/alanyoungcy/polycopy/internal/store/memory"
)

// fakeBucket is an in-memory domain.BlobWriter and domain.BlobReader.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: make(map[string][]byte)}
}

func (b *fakeBucket) Put(_ context.Context, path string, data io.Reader, _ string) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = body
	return nil
}

func (b *fakeBucket) Exists(_ context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok, nil
}

func lines(t *testing.T, body []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestArchiver_ArchiveDay(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	trades := memory.NewTradeStore()
	trades.Add(domain.Trade{ID: "t1", Asset: "a", ConditionID: "c", Side: domain.OrderSideBuy, Timestamp: day})
	trades.Add(domain.Trade{ID: "t2", Asset: "a", ConditionID: "c", Side: domain.OrderSideSell, Timestamp: day})
	trades.Add(domain.Trade{ID: "t3", Asset: "a", ConditionID: "c", Side: domain.OrderSideBuy, Timestamp: day})
	require.NoError(t, trades.MarkProcessed(ctx, "t2", domain.ProcessedFields{ExecutedAt: day.Add(5 * time.Hour), Result: "filled"}))
	require.NoError(t, trades.MarkProcessed(ctx, "t1", domain.ProcessedFields{ExecutedAt: day.Add(time.Hour), Result: "filled"}))
	// Processed the next day: outside the window.
	require.NoError(t, trades.MarkProcessed(ctx, "t3", domain.ProcessedFields{ExecutedAt: day.Add(25 * time.Hour)}))

	audit := memory.NewAuditStore()
	require.NoError(t, audit.Log(ctx, "copy.execution", map[string]any{"trade_id": "t1"}))

	bucket := newFakeBucket()
	a := NewArchiver(bucket, bucket, trades, &shiftedAudit{audit, day}, nil, "")

	res, err := a.ArchiveDay(ctx, day.Add(13*time.Hour))
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 2, res.Trades)
	assert.Equal(t, 1, res.Audit)
	assert.Equal(t, day, res.Day)

	got := lines(t, bucket.objects["archive/copy_trades/2026-03-09.jsonl"])
	require.Len(t, got, 2)
	assert.Equal(t, "t1", got[0]["id"])
	assert.Equal(t, "t2", got[1]["id"])
	assert.Equal(t, "filled", got[1]["bot_result"])

	auditLines := lines(t, bucket.objects["archive/audit/2026-03-09.jsonl"])
	require.Len(t, auditLines, 1)
	assert.Equal(t, "copy.execution", auditLines[0]["event"])

	again, err := a.ArchiveDay(ctx, day)
	require.NoError(t, err)
	assert.True(t, again.Skipped)
}

func TestArchiver_EmptyDayStillMarksDone(t *testing.T) {
	ctx := context.Background()
	bucket := newFakeBucket()
	log := memory.NewAuditStore()
	a := NewArchiver(bucket, bucket, memory.NewTradeStore(), memory.NewAuditStore(), log, "bot/archive")

	day := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	res, err := a.ArchiveDay(ctx, day)
	require.NoError(t, err)
	assert.Zero(t, res.Trades)

	ok, _ := bucket.Exists(ctx, "bot/archive/copy_trades/2026-01-02.jsonl")
	assert.True(t, ok)
	_, hasAudit := bucket.objects["bot/archive/audit/2026-01-02.jsonl"]
	assert.False(t, hasAudit)

	entries := log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.day", entries[0].Event)
	assert.Equal(t, "2026-01-02", entries[0].Detail["day"])
}

// shiftedAudit reports every entry as created at a fixed time inside the
// archived day.
type shiftedAudit struct {
	store *memory.AuditStore
	at    time.Time
}

func (s *shiftedAudit) ListBetween(_ context.Context, from, to time.Time) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for _, e := range s.store.Entries() {
		e.CreatedAt = s.at.Add(time.Minute)
		if !e.CreatedAt.Before(from) && e.CreatedAt.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestClient_PutAndExists(t *testing.T) {
	var mu sync.Mutex
	stored := map[string]string{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			stored[r.URL.Path] = string(body)
			w.Header().Set("ETag", `"abc"`)
			w.WriteHeader(http.StatusOK)
		case http.MethodHead:
			if _, ok := stored[r.URL.Path]; ok {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c, err := New(ctx, ClientConfig{
		Endpoint:       srv.URL,
		Region:         "us-east-1",
		Bucket:         "journal",
		AccessKey:      "key",
		SecretKey:      "secret",
		ForcePathStyle: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "journal", c.Bucket())

	ok, err := c.Exists(ctx, "archive/copy_trades/2026-01-02.jsonl")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "archive/copy_trades/2026-01-02.jsonl",
		strings.NewReader(`{"id":"t1"}`+"\n"), "application/x-ndjson"))

	mu.Lock()
	body, found := stored["/journal/archive/copy_trades/2026-01-02.jsonl"]
	mu.Unlock()
	require.True(t, found)
	assert.Contains(t, body, `{"id":"t1"}`)

	ok, err = c.Exists(ctx, "archive/copy_trades/2026-01-02.jsonl")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNew_RequiresBucketAndRegion(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	assert.Error(t, err)
	_, err = New(context.Background(), ClientConfig{Bucket: "b"})
	assert.Error(t, err)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("e2.example.com", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://already", normaliseEndpoint("http://already", true))
}
