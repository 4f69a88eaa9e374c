package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/animus-labs/biovalidate/internal/validation/model"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSetThenLookupRoundTrips(t *testing.T) {
	c := openTestCache(t)
	entry := model.CacheEntry{
		Valid:     true,
		Provider:  "ncbi",
		StoredAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := c.Set("human", "BRCA1", entry); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := c.Lookup("HUMAN", "brca1")
	if !ok {
		t.Fatal("expected cache hit for case-folded key")
	}
	if got.Provider != "ncbi" || !got.Valid {
		t.Fatalf("unexpected entry: %+v", got)
	}
}

func TestLookupExpiredEntryIsMiss(t *testing.T) {
	c := openTestCache(t)
	entry := model.CacheEntry{
		Valid:     true,
		Provider:  "ncbi",
		StoredAt:  time.Now().Add(-2 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	_ = c.Set("human", "BRCA1", entry)
	if _, ok := c.Lookup("human", "BRCA1"); ok {
		t.Fatal("expected expired entry to be treated as a miss")
	}
}

func TestClearExpiredIsIdempotent(t *testing.T) {
	c := openTestCache(t)
	_ = c.Set("human", "BRCA1", model.CacheEntry{
		Valid: true, Provider: "ncbi",
		StoredAt: time.Now().Add(-2 * time.Hour), ExpiresAt: time.Now().Add(-time.Hour),
	})
	n, err := c.ClearExpired()
	if err != nil {
		t.Fatalf("ClearExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected to evict 1 entry, evicted %d", n)
	}
	n2, err := c.ClearExpired()
	if err != nil {
		t.Fatalf("ClearExpired (second run): %v", err)
	}
	if n2 != 0 {
		t.Fatalf("second run should be a no-op, evicted %d", n2)
	}
}

func TestSingleFlightCoalescesConcurrentCalls(t *testing.T) {
	c := openTestCache(t)
	var calls int
	done := make(chan struct{})
	go func() {
		_, _, _ = c.SingleFlight("human", "BRCA1", func() (model.CacheEntry, error) {
			calls++
			<-done
			return model.CacheEntry{Valid: true, Provider: "ncbi"}, nil
		})
	}()

	entry, err, shared := c.SingleFlight("human", "BRCA1", func() (model.CacheEntry, error) {
		calls++
		return model.CacheEntry{Valid: true, Provider: "ncbi"}, nil
	})
	close(done)
	if err != nil {
		t.Fatalf("SingleFlight: %v", err)
	}
	if !shared && calls > 1 {
		t.Fatalf("expected calls to be coalesced, got %d calls", calls)
	}
	if !entry.Valid {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestPurgeEmptiesStore(t *testing.T) {
	c := openTestCache(t)
	_ = c.Set("human", "BRCA1", model.CacheEntry{Valid: true, ExpiresAt: time.Now().Add(time.Hour)})
	if err := c.Purge(); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if _, ok := c.Lookup("human", "BRCA1"); ok {
		t.Fatal("expected purge to remove all entries")
	}
}

func TestWarmSkipsAlreadyCachedPairs(t *testing.T) {
	c := openTestCache(t)
	_ = c.Set("human", "BRCA1", model.CacheEntry{Valid: true, ExpiresAt: time.Now().Add(time.Hour)})

	resolveCalls := 0
	warmed, err := c.Warm([][2]string{{"human", "BRCA1"}, {"human", "TP53"}}, func(organism, identifier string) (model.CacheEntry, error) {
		resolveCalls++
		return model.CacheEntry{Valid: true, Provider: "ncbi", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})
	if err != nil {
		t.Fatalf("Warm: %v", err)
	}
	if warmed != 1 || resolveCalls != 1 {
		t.Fatalf("expected exactly one new resolution, got warmed=%d calls=%d", warmed, resolveCalls)
	}
}

func TestWarmPropagatesResolveError(t *testing.T) {
	c := openTestCache(t)
	_, err := c.Warm([][2]string{{"human", "BRCA1"}}, func(organism, identifier string) (model.CacheEntry, error) {
		return model.CacheEntry{}, errors.New("provider down")
	})
	if err == nil {
		t.Fatal("expected Warm to propagate resolve errors")
	}
}
