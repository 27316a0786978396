package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStore — durable store в памяти с подсчетом обращений
type fakeStore struct {
	mu      sync.Mutex
	records []Record
	queries int
	putErr  error
}

func (f *fakeStore) Query(ctx context.Context, sessionID string, limit int, orderDesc bool) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++

	var out []Record
	for _, r := range f.records {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if orderDesc {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) PutBatch(ctx context.Context, records []Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.records = append(f.records, records...)
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, sessionID string, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.records {
		if r.SessionID == sessionID && r.Timestamp.Equal(ts) {
			f.records = append(f.records[:i], f.records[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeStore) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func defaultOpts() Options {
	return Options{
		TTL:                5 * time.Minute,
		MaxSize:            100,
		RecordTTL:          90 * 24 * time.Hour,
		CompactProbability: 0.1,
		CompactKeepTurns:   20,
	}
}

func seedStore(store *fakeStore, sessionID string, n int) {
	base := time.Now().Add(-time.Hour)
	for i := 0; i < n; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		store.records = append(store.records, Record{
			SessionID: sessionID,
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Role:      role,
			Content:   fmt.Sprintf("turn-%d", i),
		})
	}
}

func TestCacheReadThroughThenHit(t *testing.T) {
	store := &fakeStore{}
	seedStore(store, "s1", 4)
	c := NewContextCache(store, defaultOpts(), zap.NewNop())

	var lookups []string
	c.OnLookup(func(result string) { lookups = append(lookups, result) })

	turns, err := c.Get(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	require.Equal(t, 1, store.queryCount())

	// Хронологический порядок после over-fetch по убыванию
	require.Equal(t, "turn-0", turns[0].Content)
	require.Equal(t, "turn-3", turns[3].Content)

	// Попадание не ходит в хранилище
	_, err = c.Get(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Equal(t, 1, store.queryCount())
	require.Equal(t, []string{LookupMiss, LookupHit}, lookups)
}

func TestCacheReadYourWrites(t *testing.T) {
	store := &fakeStore{}
	c := NewContextCache(store, defaultOpts(), zap.NewNop())
	ctx := context.Background()

	_, err := c.Get(ctx, "s1", 10)
	require.NoError(t, err)

	err = c.Put(ctx, "s1", "caller-1", []TurnWrite{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
	})
	require.NoError(t, err)

	turns, err := c.Get(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, "hello", turns[0].Content)
	require.Equal(t, "hi there", turns[1].Content)
}

func TestCacheTTLExpiry(t *testing.T) {
	store := &fakeStore{}
	seedStore(store, "s1", 2)
	c := NewContextCache(store, defaultOpts(), zap.NewNop())

	current := time.Now()
	c.now = func() time.Time { return current }

	var lookups []string
	c.OnLookup(func(result string) { lookups = append(lookups, result) })

	_, err := c.Get(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Equal(t, 1, store.queryCount())

	// Запись пережила TTL — считается отсутствующей
	current = current.Add(defaultOpts().TTL + time.Second)
	_, err = c.Get(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Equal(t, 2, store.queryCount())
	require.Equal(t, []string{LookupMiss, LookupExpired}, lookups)
}

func TestCacheEvictsGlobalOldest(t *testing.T) {
	store := &fakeStore{}
	opts := defaultOpts()
	opts.MaxSize = 2
	c := NewContextCache(store, opts, zap.NewNop())

	current := time.Now()
	c.now = func() time.Time { return current }
	ctx := context.Background()

	evictions := 0
	c.OnLookup(func(result string) {
		if result == LookupEvicted {
			evictions++
		}
	})

	_, _ = c.Get(ctx, "s1", 10)
	current = current.Add(time.Second)
	_, _ = c.Get(ctx, "s2", 10)
	current = current.Add(time.Second)
	_, _ = c.Get(ctx, "s3", 10)

	require.Equal(t, 2, c.Len())
	require.Equal(t, 1, evictions)

	// Самая старая запись (s1) выселена: повторный Get идет в хранилище
	before := store.queryCount()
	_, _ = c.Get(ctx, "s1", 10)
	require.Equal(t, before+1, store.queryCount())
}

func TestCachePutFailureKeepsStaleEntry(t *testing.T) {
	store := &fakeStore{}
	seedStore(store, "s1", 2)
	c := NewContextCache(store, defaultOpts(), zap.NewNop())
	ctx := context.Background()

	invalidations := 0
	c.OnInvalidate(func(string) { invalidations++ })

	_, err := c.Get(ctx, "s1", 10)
	require.NoError(t, err)

	store.putErr = errors.New("db down")
	err = c.Put(ctx, "s1", "", []TurnWrite{{Role: "user", Content: "lost"}})
	require.Error(t, err)
	require.Zero(t, invalidations)

	// Кэш не тронут: следующий Get — всё еще попадание
	before := store.queryCount()
	_, err = c.Get(ctx, "s1", 10)
	require.NoError(t, err)
	require.Equal(t, before, store.queryCount())
}

func TestCacheInvalidateDropsAllDepths(t *testing.T) {
	store := &fakeStore{}
	seedStore(store, "s1", 4)
	c := NewContextCache(store, defaultOpts(), zap.NewNop())
	ctx := context.Background()

	// Две глубины истории — два ключа одной сессии
	_, _ = c.Get(ctx, "s1", 5)
	_, _ = c.Get(ctx, "s1", 10)
	require.Equal(t, 2, c.Len())

	c.Invalidate("s1")
	require.Equal(t, 0, c.Len())
}

func TestCompactKeepsRecentTail(t *testing.T) {
	store := &fakeStore{}
	seedStore(store, "s1", 30)
	c := NewContextCache(store, defaultOpts(), zap.NewNop())

	c.compactNow(context.Background(), "s1", 20)

	require.Equal(t, 20, store.count())
	// Остались самые свежие записи
	records, err := store.Query(context.Background(), "s1", 0, false)
	require.NoError(t, err)
	require.Equal(t, "turn-10", records[0].Content)
	require.Equal(t, "turn-29", records[len(records)-1].Content)
}
