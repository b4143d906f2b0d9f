package bufferstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appevents/internal/constants"
	"appevents/internal/events"
	"appevents/internal/logger"
	"appevents/internal/persistence"
	"appevents/pkg/codec"
	"appevents/pkg/models"
)

func newTestStore(t *testing.T, opts ...Option) (*BufferStore, *persistence.MemoryStore) {
	t.Helper()
	mem := persistence.NewMemoryStore()
	return New(mem, logger.NopLogger(), opts...), mem
}

func bufferWith(token, appID string, n int) *events.Buffer {
	b := events.NewBufferFor(events.NewIdentity(token, appID))
	for i := 0; i < n; i++ {
		b.AddEvent(models.NewRecordBuilder(fmt.Sprintf("event_%d", i)).
			WithParam("fb_currency", models.String("USD")).
			WithParam("_valueToSum", models.Number(9.99)).
			WithParam("fb_content", models.Map(models.Params{"id": models.String("sku-1")})).
			Implicit(i%2 == 0).
			Build(), models.Params{"attempt": models.Int(int64(i))})
	}
	return b
}

func TestPersistAndRetrieveInOrder(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	first := bufferWith("t", "a", 3)
	first.AddEvent(models.NewRecordBuilder("x").Build(), nil)
	second := bufferWith("t", "a", 1)
	third := bufferWith("u", "b", 2)

	require.NoError(t, s.Persist(ctx, first))
	require.NoError(t, s.Persist(ctx, second))
	require.NoError(t, s.Persist(ctx, third))

	got, err := s.RetrieveAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, 4, got[0].Len())
	assert.Equal(t, 1, got[1].Len())
	assert.Equal(t, "u", *got[2].Token())
	assert.True(t, got[0].IsCompatibleWith(got[1]))

	want := first.Events()
	restored := got[0].Events()
	for i := range want {
		assert.True(t, want[i].Params.Equal(restored[i].Params), "record %d params", i)
		assert.Equal(t, want[i].Implicit, restored[i].Implicit)
	}
	assert.Equal(t, float64(0), mustNumber(t, restored[0].Operational["attempt"]))

	again, err := s.RetrieveAll(ctx)
	require.NoError(t, err)
	assert.Len(t, again, 3, "retrieve must not clear")
}

func mustNumber(t *testing.T, v models.Value) float64 {
	t.Helper()
	n, ok := v.AsNumber()
	require.True(t, ok)
	return n
}

func TestPersistSkipsInvalidIdentity(t *testing.T) {
	ctx := context.Background()
	s, mem := newTestStore(t)

	tests := []*events.Buffer{
		events.NewBuffer(nil, nil),
		events.NewBufferFor(events.NewIdentity("", "a")),
		events.NewBufferFor(events.NewIdentity("t", "   ")),
	}
	for _, b := range tests {
		assert.NoError(t, s.Persist(ctx, b))
	}

	_, _, err := mem.Get(ctx, constants.BufferStoreKey)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestSkippedCountSurvives(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	b := bufferWith("t", "a", events.MaxEvents)
	b.AddEvent(models.NewRecordBuilder("overflow").Build(), nil)
	require.NoError(t, s.Persist(ctx, b))

	got, err := s.RetrieveAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, events.MaxEvents, got[0].Len())
	assert.Equal(t, uint64(1), got[0].SkippedCount())
	assert.False(t, got[0].AllImplicit())
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Persist(ctx, bufferWith("t", "a", 1)))
	_, ok, err := s.LastPersisted(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.ClearAll(ctx))
	got, err := s.RetrieveAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, ok, err = s.LastPersisted(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompressionThreshold(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name       string
		threshold  int
		wantHeader byte
	}{
		{name: "compressed", threshold: 64, wantHeader: 0x01},
		{name: "disabled", threshold: 0, wantHeader: 0x00},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mem := newTestStore(t, WithCompressionThreshold(tt.threshold))
			require.NoError(t, s.Persist(ctx, bufferWith("t", "a", 50)))

			blob, _, err := mem.Get(ctx, constants.BufferStoreKey)
			require.NoError(t, err)
			var entries [][]byte
			require.NoError(t, codec.Unmarshal(blob, &entries))
			require.Len(t, entries, 1)
			assert.Equal(t, tt.wantHeader, entries[0][0])

			got, err := s.RetrieveAll(ctx)
			require.NoError(t, err)
			assert.Equal(t, 50, got[0].Len())
		})
	}
}

func TestInvalidUTF8ParamSurvivesPersistence(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	buf := bufferWith("t", "a", 2)
	buf.AddEvent(models.NewRecordBuilder("odd").
		WithParam("u", models.String("\xff")).
		WithParam("nested", models.Map(models.Params{"v": models.String("a\xfeb")})).
		Build(), nil)
	require.NoError(t, s.Persist(ctx, buf))

	got, err := s.RetrieveAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 3, got[0].Len())

	restored := got[0].Events()[2]
	assert.True(t, buf.Events()[2].Params.Equal(restored.Params))
	u, _ := restored.Params["u"].AsString()
	assert.Equal(t, "\xff", u)
}

func TestUnknownVersionIsSkipped(t *testing.T) {
	ctx := context.Background()
	s, mem := newTestStore(t)

	require.NoError(t, s.Persist(ctx, bufferWith("t", "a", 1)))

	future := newSnapshot("future", time.Now(), bufferWith("t", "a", 1))
	future.Version = SnapshotVersion + 1
	entry, err := codec.MarshalFramed(future, 0)
	require.NoError(t, err)

	blob, _, err := mem.Get(ctx, constants.BufferStoreKey)
	require.NoError(t, err)
	var entries [][]byte
	require.NoError(t, codec.Unmarshal(blob, &entries))
	entries = append(entries, entry, []byte{0x7f})
	blob, err = codec.Marshal(entries)
	require.NoError(t, err)
	require.NoError(t, mem.Set(ctx, constants.BufferStoreKey, blob))

	got, err := s.RetrieveAll(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRetrieveAppliesBufferOptions(t *testing.T) {
	ctx := context.Background()
	reg := events.NewProcessorRegistry()
	reg.Register(events.ProcessorFunc(func(p models.Params) models.Params {
		p["restored"] = models.Bool(true)
		return p
	}))
	s, _ := newTestStore(t, WithBufferOptions(events.WithProcessors(reg)))

	require.NoError(t, s.Persist(ctx, bufferWith("t", "a", 1)))
	got, err := s.RetrieveAll(ctx)
	require.NoError(t, err)

	data, err := got[0].SerializeEvents(true)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"restored":true`)
}
