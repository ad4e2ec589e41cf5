package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// ProcessedTradeSource lists trades by the time the engine handled them.
type ProcessedTradeSource interface {
	ListProcessedBetween(ctx context.Context, from, to time.Time) ([]domain.Trade, error)
}

// AuditSource lists audit entries by creation time.
type AuditSource interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]domain.AuditEntry, error)
}

// Archiver writes one JSONL object per UTC day for processed trades and
// another for audit entries:
//
//	<prefix>/copy_trades/2026-01-02.jsonl
//	<prefix>/audit/2026-01-02.jsonl
//
// A day whose trades object already exists is skipped, so reruns after a
// restart do not upload it again. Records are never deleted from the
// primary store.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	trades ProcessedTradeSource
	audit  AuditSource
	log    domain.AuditStore
	prefix string
}

// NewArchiver creates an Archiver. log may be nil.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	trades ProcessedTradeSource,
	audit AuditSource,
	log domain.AuditStore,
	prefix string,
) *Archiver {
	if prefix == "" {
		prefix = "archive"
	}
	return &Archiver{
		writer: writer,
		reader: reader,
		trades: trades,
		audit:  audit,
		log:    log,
		prefix: prefix,
	}
}

// ArchiveDay uploads the records of the UTC day containing day.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time) (domain.ArchiveResult, error) {
	from := truncateDay(day)
	to := from.AddDate(0, 0, 1)
	res := domain.ArchiveResult{Day: from}

	tradesKey := a.key("copy_trades", from)
	exists, err := a.reader.Exists(ctx, tradesKey)
	if err != nil {
		return res, err
	}
	if exists {
		res.Skipped = true
		return res, nil
	}

	trades, err := a.trades.ListProcessedBetween(ctx, from, to)
	if err != nil {
		return res, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	entries, err := a.audit.ListBetween(ctx, from, to)
	if err != nil {
		return res, fmt.Errorf("s3blob: archive audit query: %w", err)
	}

	// Audit goes first: the trades object marks the day as done.
	if len(entries) > 0 {
		records := make([]auditRecord, len(entries))
		for i, e := range entries {
			records[i] = auditRecord{ID: e.ID, Event: e.Event, Detail: e.Detail, CreatedAt: e.CreatedAt}
		}
		if err := a.upload(ctx, a.key("audit", from), records); err != nil {
			return res, err
		}
		res.Audit = len(entries)
	}

	records := make([]tradeRecord, len(trades))
	for i, t := range trades {
		records[i] = newTradeRecord(t)
	}
	if err := a.upload(ctx, tradesKey, records); err != nil {
		return res, err
	}
	res.Trades = len(trades)

	if a.log != nil {
		if err := a.log.Log(ctx, "archive.day", map[string]any{
			"day":    from.Format(time.DateOnly),
			"trades": res.Trades,
			"audit":  res.Audit,
		}); err != nil {
			return res, fmt.Errorf("s3blob: archive audit log: %w", err)
		}
	}
	return res, nil
}

func (a *Archiver) key(kind string, day time.Time) string {
	return path.Join(a.prefix, kind, day.Format(time.DateOnly)+".jsonl")
}

func (a *Archiver) upload(ctx context.Context, key string, records any) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: marshal %s: %w", key, err)
	}
	return a.writer.Put(ctx, key, bytes.NewReader(buf), "application/x-ndjson")
}

type tradeRecord struct {
	ID              string     `json:"id"`
	TraderAddress   string     `json:"trader_address"`
	TransactionHash string     `json:"transaction_hash"`
	Asset           string     `json:"asset"`
	ConditionID     string     `json:"condition_id"`
	Side            string     `json:"side"`
	Type            string     `json:"type"`
	Size            float64    `json:"size"`
	Price           float64    `json:"price"`
	USDCSize        float64    `json:"usdc_size"`
	Timestamp       time.Time  `json:"timestamp"`
	BotExecutedAt   *time.Time `json:"bot_executed_at"`
	BotExecutedSize float64    `json:"bot_executed_size"`
	MyBoughtSize    float64    `json:"my_bought_size"`
	BotResult       string     `json:"bot_result"`
}

func newTradeRecord(t domain.Trade) tradeRecord {
	return tradeRecord{
		ID:              t.ID,
		TraderAddress:   t.TraderAddress,
		TransactionHash: t.TransactionHash,
		Asset:           t.Asset,
		ConditionID:     t.ConditionID,
		Side:            string(t.Side),
		Type:            string(t.Type),
		Size:            t.Size,
		Price:           t.Price,
		USDCSize:        t.USDCSize,
		Timestamp:       t.Timestamp,
		BotExecutedAt:   t.BotExecutedAt,
		BotExecutedSize: t.BotExecutedSize,
		MyBoughtSize:    t.MyBoughtSize,
		BotResult:       t.BotResult,
	}
}

type auditRecord struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// marshalJSONL encodes a slice as one JSON document per line.
func marshalJSONL(records any) ([]byte, error) {
	raw, err := json.Marshal(records)
	if err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	for _, item := range items {
		buf.Write(item)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

var _ domain.Archiver = (*Archiver)(nil)
