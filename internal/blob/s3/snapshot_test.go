package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rwamarket/internal/domain"
)

type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemBlob() *memBlob {
	return &memBlob{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	m.types[path] = contentType
	return nil
}

func (m *memBlob) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "multipart")
}

func (m *memBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlob) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (m *memBlob) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

type memAudit struct{ events []string }

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestSnapshotArchiver_ExportLatest(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	audit := &memAudit{}
	a := NewSnapshotArchiver(blob, blob, audit)

	_, err := a.Latest(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	tok := common.HexToAddress("0xaa")
	snap := domain.MarketSnapshot{
		Seq:      7,
		BuiltAt:  time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC),
		Listings: []domain.Listing{{ID: 1, Token: tok, Remaining: 3, Price6: 100}},
		Markets: map[string]domain.MarketData{
			tok.Hex(): {Token: tok, Trades: []domain.Trade{{ListingID: 1, Amount: 2}, {ListingID: 1, Amount: 1}}},
		},
	}

	path, err := a.Export(ctx, snap)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, "snapshots/2026/04/02/7-"))
	assert.Equal(t, []string{"snapshot.export"}, audit.events)

	trades, err := blob.List(ctx, "trades/2026-04-02/")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, 2, bytes.Count(blob.objects[trades[0].Path], []byte("\n")))
	assert.Equal(t, "application/x-ndjson", blob.types[trades[0].Path])

	got, err := a.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.Seq)
	assert.Equal(t, snap.Listings, got.Listings)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
}
