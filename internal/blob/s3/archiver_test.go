package s3blob

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/gmparb/internal/domain"
)

// memBlob is an in-memory writer/reader pair standing in for the bucket.
type memBlob struct {
	objects map[string][]byte
	puts    int
}

func newMemBlob() *memBlob {
	return &memBlob{objects: map[string][]byte{}}
}

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	m.puts++
	return nil
}

func (m *memBlob) PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, _ int64) error {
	return m.Put(ctx, path, data, contentType)
}

func (m *memBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlob) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

// truncatingBlob returns only half of every object on read-back.
type truncatingBlob struct {
	*memBlob
}

func (t *truncatingBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := t.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b[:len(b)/2])), nil
}

type fakeTickStore struct {
	ticks []domain.PriceTick
}

func (f *fakeTickStore) ListTicksBefore(context.Context, time.Time) ([]domain.PriceTick, error) {
	return f.ticks, nil
}

type fakeSignalStore struct {
	signals []domain.ArbSignal
}

func (f *fakeSignalStore) ListSignalsBefore(context.Context, time.Time) ([]domain.ArbSignal, error) {
	return f.signals, nil
}

func ptr(f float64) *float64 { return &f }

var cutoff = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

func sampleTicks() []domain.PriceTick {
	return []domain.PriceTick{
		{AssetID: "yes-1", MarketID: "m1", Outcome: domain.OutcomeYes, BestBid: ptr(0.18), BestAsk: ptr(0.20), AsOf: cutoff.Add(-time.Hour)},
		{AssetID: "no-1", MarketID: "m1", Outcome: domain.OutcomeNo, BestBid: ptr(0.78), BestAsk: ptr(0.80), AsOf: cutoff.Add(-time.Minute)},
	}
}

func TestArchiveTicksWritesJSONL(t *testing.T) {
	blob := newMemBlob()
	arch := NewArchiver(blob, blob, &fakeTickStore{ticks: sampleTicks()}, &fakeSignalStore{})

	n, err := arch.ArchiveTicks(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	obj, ok := blob.objects["archive/price_ticks/2026-08-01.jsonl"]
	require.True(t, ok)
	lines := strings.Split(strings.TrimRight(string(obj), "\n"), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"yes-1"`)
}

func TestArchiveTicksEmptyIsNoop(t *testing.T) {
	blob := newMemBlob()
	arch := NewArchiver(blob, blob, &fakeTickStore{}, &fakeSignalStore{})

	n, err := arch.ArchiveTicks(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blob.objects)
}

func TestArchiveSkipsExistingObject(t *testing.T) {
	blob := newMemBlob()
	prior := []byte("already archived\n")
	blob.objects["archive/price_ticks/2026-08-01.jsonl"] = prior

	arch := NewArchiver(blob, blob, &fakeTickStore{ticks: sampleTicks()}, &fakeSignalStore{})

	n, err := arch.ArchiveTicks(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// The earlier upload is trusted; nothing was rewritten.
	assert.Zero(t, blob.puts)
	assert.Equal(t, prior, blob.objects["archive/price_ticks/2026-08-01.jsonl"])
}

func TestArchiveFailsWhenReadbackTruncated(t *testing.T) {
	blob := &truncatingBlob{memBlob: newMemBlob()}
	arch := NewArchiver(blob, blob, &fakeTickStore{ticks: sampleTicks()}, &fakeSignalStore{})

	_, err := arch.ArchiveTicks(context.Background(), cutoff)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verify")
}

func TestArchiveSignals(t *testing.T) {
	blob := newMemBlob()
	signals := []domain.ArbSignal{{
		ID:      "sig1",
		EventID: "ev1",
		Kind:    domain.SignalBuyAllYes,
		AsOf:    cutoff.Add(-time.Hour),
		Cost:    0.85,
		Edge:    0.1483,
	}}
	arch := NewArchiver(blob, blob, &fakeTickStore{}, &fakeSignalStore{signals: signals})

	n, err := arch.ArchiveSignals(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Contains(t, blob.objects, "archive/arb_signals/2026-08-01.jsonl")
}
