package exporter

import (
	"bytes"
	"context"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"selfvault/pkg/core"
	"selfvault/pkg/ingester"
	"selfvault/pkg/storage/disk"
	"selfvault/pkg/stream"
)

func testParams() stream.Params {
	return stream.Params{MaxChunkSize: 64 << 10, MaxIncludableDataSize: 1 << 10, MaxIncludableChunkSize: 512}
}

func TestIngestAndExport_RoundTrip(t *testing.T) {
	store, err := disk.NewAdapter(t.TempDir())
	require.NoError(t, err)

	ing := ingester.NewIngester(store, testParams(), nil, core.DefaultSelfEncryptionType)
	exp := NewExporter(store, testParams(), nil)
	ctx := context.Background()

	// 500KB spans several full chunks.
	originalData := make([]byte, 500*1024)
	_, err = rand.Read(originalData)
	require.NoError(t, err)

	dm, err := ing.Ingest(ctx, bytes.NewReader(originalData))
	require.NoError(t, err)
	t.Logf("Chunks count: %d", len(dm.Chunks))

	var restoredBuffer bytes.Buffer
	require.NoError(t, exp.Export(ctx, dm, &restoredBuffer))

	assert.Equal(t, len(originalData), restoredBuffer.Len(), "sizes should match")
	if !bytes.Equal(originalData, restoredBuffer.Bytes()) {
		t.Fatal("❌ FAILURE: Data Mismatch!")
	}
}

func TestExporter_Remove(t *testing.T) {
	store, err := disk.NewAdapter(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ing := ingester.NewIngester(store, testParams(), nil, core.DefaultSelfEncryptionType)
	data := make([]byte, 200*1024)
	_, err = rand.Read(data)
	require.NoError(t, err)

	// Two identical files share every chunk.
	first, err := ing.Ingest(ctx, bytes.NewReader(data))
	require.NoError(t, err)
	second, err := ing.Ingest(ctx, bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, first.Chunks, second.Chunks)

	exp := NewExporter(store, testParams(), nil)
	require.NoError(t, exp.Remove(ctx, first))

	var out bytes.Buffer
	require.NoError(t, exp.Export(ctx, second, &out), "shared chunks must survive")
	assert.Equal(t, data, out.Bytes())

	require.NoError(t, exp.Remove(ctx, second))
	for _, c := range second.Chunks {
		has, err := store.Has(ctx, c.Cid.Hash)
		require.NoError(t, err)
		assert.False(t, has)
	}
	assert.NoError(t, exp.Remove(ctx, second), "chunks already gone are skipped")
}

func TestPrintDataMap(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintDataMap(&core.DataMap{Content: []byte("hi"), Size: 2}, &buf))
	assert.Contains(t, buf.String(), "inline (2 bytes in map)")

	store, err := disk.NewAdapter(t.TempDir())
	require.NoError(t, err)
	data := make([]byte, 3000)
	_, err = rand.Read(data)
	require.NoError(t, err)
	dm, err := ingester.NewIngester(store, testParams(), nil, core.DefaultSelfEncryptionType).
		Ingest(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)

	buf.Reset()
	require.NoError(t, PrintDataMap(dm, &buf))
	out := buf.String()
	assert.Contains(t, out, "Chunks:  3")
	assert.Contains(t, out, dm.Chunks[0].Cid.Hash.Short())
}
