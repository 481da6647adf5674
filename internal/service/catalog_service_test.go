package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rwamarket/internal/domain"
)

var factory = common.HexToAddress("0x0000000000000000000000000000000000000fac")

func factoryLogs() logSource {
	return logSource{logs: map[common.Address][]domain.RawLog{
		factory: {{LogIndex: 0}, {LogIndex: 1}, {LogIndex: 2}},
	}}
}

func factoryDecoder() catalogDecoder {
	return catalogDecoder{
		0: {Name: "Harbour Lofts", Symbol: "HRB", Token: addrPtr(tokenA), Sale: addrPtr(saleA)},
		1: {Name: "Mill Yard", Symbol: "MIL", Token: addrPtr(tokenB), Sale: addrPtr(saleB)},
	}
}

func TestCatalogService_RefreshMergesCache(t *testing.T) {
	kv := newMemKV()
	putJSON(t, kv, domain.CacheKeyCatalog, []domain.CatalogItem{
		{Name: "Harbour Lofts (Unit 4)", Image: "ipfs://img", Sale: addrPtr(common.HexToAddress(saleA.Hex()))},
		{Name: "Gone", Sale: addrPtr(common.HexToAddress("0x00000000000000000000000000000000000000ff"))},
	})
	svc := NewCatalogService(CatalogConfig{Factory: factory}, factoryLogs(), factoryDecoder(), kv, discard())

	items, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Harbour Lofts (Unit 4)", items[0].Name)
	assert.Equal(t, "ipfs://img", items[0].Image)
	assert.Equal(t, "HRB", items[0].Symbol)
	assert.Equal(t, "Mill Yard", items[1].Name)
	assert.Equal(t, "Harbour Lofts (Unit 4)", svc.NameFor(tokenA))
	assert.Empty(t, svc.NameFor(alice))

	svc.Wait()
	var stored []domain.CatalogItem
	require.NoError(t, json.Unmarshal(kv.data[domain.CacheKeyCatalog], &stored))
	assert.Len(t, stored, 2)
}

func TestCatalogService_ServesCacheWhenLedgerDown(t *testing.T) {
	kv := newMemKV()
	putJSON(t, kv, domain.CacheKeyCatalog, []domain.CatalogItem{
		{Name: "Harbour Lofts", Token: addrPtr(tokenA), Sale: addrPtr(saleA)},
	})
	logs := logSource{fail: map[common.Address]bool{factory: true}}
	svc := NewCatalogService(CatalogConfig{Factory: factory}, logs, factoryDecoder(), kv, discard())

	items, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Harbour Lofts", svc.NameFor(tokenA))

	_, err = svc.Refresh(context.Background())
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestCatalogService_MalformedCacheIsEmpty(t *testing.T) {
	kv := newMemKV()
	require.NoError(t, kv.Set(context.Background(), domain.CacheKeyCatalog, []byte("{not json")))
	svc := NewCatalogService(CatalogConfig{Factory: factory}, factoryLogs(), factoryDecoder(), kv, discard())

	items, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 2)
	svc.Wait()
}

func TestCatalogService_Upsert(t *testing.T) {
	kv := newMemKV()
	svc := NewCatalogService(CatalogConfig{Factory: factory}, factoryLogs(), factoryDecoder(), kv, discard())
	ctx := context.Background()

	it, err := svc.Upsert(ctx, saleB, domain.CatalogMetadata{Location: "Leeds", Name: "  "})
	require.NoError(t, err)
	assert.Equal(t, "Mill Yard", it.Name)
	assert.Equal(t, "Leeds", it.Location)
	svc.Wait()

	var stored []domain.CatalogItem
	require.NoError(t, json.Unmarshal(kv.data[domain.CacheKeyCatalog], &stored))
	assert.Equal(t, "Leeds", stored[1].Location)

	_, err = svc.Upsert(ctx, alice, domain.CatalogMetadata{Name: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCatalogService_ListReloadsWhenStale(t *testing.T) {
	dec := factoryDecoder()
	mill := dec[1]
	delete(dec, 1)
	logs := &countingLogs{LogSource: factoryLogs()}
	svc := NewCatalogService(CatalogConfig{Factory: factory, MaxAge: time.Minute}, logs, dec, nil, discard())
	now := t0
	svc.now = func() time.Time { return now }
	ctx := context.Background()

	for range 2 {
		items, err := svc.List(ctx)
		require.NoError(t, err)
		assert.Len(t, items, 1)
	}
	assert.Equal(t, int32(1), logs.calls.Load())

	dec[1] = mill
	now = t0.Add(2 * time.Minute)
	items, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 2, "sale created after the first load")
	assert.Equal(t, "Mill Yard", svc.NameFor(tokenB))
	assert.Equal(t, int32(2), logs.calls.Load())
}
