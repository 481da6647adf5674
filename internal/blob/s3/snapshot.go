package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/rwamarket/internal/domain"
)

const (
	latestPath = "snapshots/latest.json"

	// multipartThreshold switches trade exports to the upload manager.
	multipartThreshold = 8 * 1024 * 1024
)

// SnapshotArchiver implements domain.SnapshotArchiver. Each export writes
// three objects:
//
//	snapshots/2026/01/02/{seq}-{id}.json  full snapshot
//	snapshots/latest.json                 copy of the newest snapshot
//	trades/2026-01-02/{seq}-{id}.jsonl    every trade of every market
type SnapshotArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore // optional
}

// NewSnapshotArchiver creates a SnapshotArchiver. audit may be nil.
func NewSnapshotArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore) *SnapshotArchiver {
	return &SnapshotArchiver{writer: writer, reader: reader, audit: audit}
}

// Export uploads snap and returns the path of the dated snapshot object.
func (a *SnapshotArchiver) Export(ctx context.Context, snap domain.MarketSnapshot) (string, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal snapshot %d: %w", snap.Seq, err)
	}

	id := uuid.NewString()[:8]
	day := snap.BuiltAt.UTC()
	path := fmt.Sprintf("snapshots/%s/%d-%s.json", day.Format("2006/01/02"), snap.Seq, id)

	if err := a.writer.Put(ctx, path, bytes.NewReader(body), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: export snapshot: %w", err)
	}
	if err := a.writer.Put(ctx, latestPath, bytes.NewReader(body), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: export latest: %w", err)
	}

	trades := snapshotTrades(snap)
	tradesPath := fmt.Sprintf("trades/%s/%d-%s.jsonl", day.Format("2006-01-02"), snap.Seq, id)
	if len(trades) > 0 {
		buf, err := marshalJSONL(trades)
		if err != nil {
			return "", fmt.Errorf("s3blob: marshal trades: %w", err)
		}
		if err := a.putLarge(ctx, tradesPath, buf); err != nil {
			return "", err
		}
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "snapshot.export", map[string]any{
			"path":     path,
			"seq":      snap.Seq,
			"listings": len(snap.Listings),
			"markets":  len(snap.Markets),
			"trades":   len(trades),
			"built_at": snap.BuiltAt.Format(time.RFC3339),
		}); err != nil {
			return path, fmt.Errorf("s3blob: audit export: %w", err)
		}
	}
	return path, nil
}

func (a *SnapshotArchiver) putLarge(ctx context.Context, path string, buf []byte) error {
	var err error
	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return fmt.Errorf("s3blob: export trades: %w", err)
	}
	return nil
}

// Latest reads back the newest exported snapshot. It returns an error
// wrapping domain.ErrNotFound before the first export.
func (a *SnapshotArchiver) Latest(ctx context.Context) (domain.MarketSnapshot, error) {
	rc, err := a.reader.Get(ctx, latestPath)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("s3blob: read latest: %w", err)
	}
	var snap domain.MarketSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("s3blob: decode latest: %w", err)
	}
	return snap, nil
}

// snapshotTrades flattens the trades of every market in token order.
func snapshotTrades(snap domain.MarketSnapshot) []domain.Trade {
	tokens := make([]string, 0, len(snap.Markets))
	for tok := range snap.Markets {
		tokens = append(tokens, tok)
	}
	slices.Sort(tokens)

	var out []domain.Trade
	for _, tok := range tokens {
		out = append(out, snap.Markets[tok].Trades...)
	}
	return out
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

// Compile-time interface check.
var _ domain.SnapshotArchiver = (*SnapshotArchiver)(nil)
