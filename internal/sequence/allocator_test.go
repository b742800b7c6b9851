package sequence

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mpfootwear/backoffice/internal/shared"
)

type memoryStore struct {
	mu       sync.Mutex
	counters map[string]int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{counters: make(map[string]int64)}
}

func (s *memoryStore) Next(ctx context.Context, key string, floor int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.counters[key]; ok {
		s.counters[key] = last + 1
	} else {
		s.counters[key] = floor
	}
	return s.counters[key], nil
}

func (s *memoryStore) Raise(ctx context.Context, key string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.counters[key]; !ok || value > last {
		s.counters[key] = value
	}
	return nil
}

func mayDay(t *testing.T) time.Time {
	t.Helper()
	at, err := time.Parse("2006-01-02", "2024-05-01")
	require.NoError(t, err)
	return at
}

func TestAllocateOrderNumbers(t *testing.T) {
	alloc := NewAllocator(newMemoryStore())
	ctx := context.Background()
	scope := Scope{Tenant: shared.Tenant("mp"), Category: CategoryOrder, Date: mayDay(t)}

	for i, want := range []string{"mpO20240501000001", "mpO20240501000002", "mpO20240501000003"} {
		got, err := alloc.Allocate(ctx, scope)
		require.NoError(t, err, "allocation %d", i)
		require.Equal(t, want, got)
	}
}

func TestAllocateIsolatesDateBuckets(t *testing.T) {
	alloc := NewAllocator(newMemoryStore())
	ctx := context.Background()

	first, err := alloc.Allocate(ctx, Scope{Tenant: shared.TenantMPShoes, Category: CategorySale, Date: mayDay(t)})
	require.NoError(t, err)
	require.Equal(t, "MPS202405010001", first)

	nextDay, err := alloc.Allocate(ctx, Scope{Tenant: shared.TenantMPShoes, Category: CategorySale, Date: mayDay(t).AddDate(0, 0, 1)})
	require.NoError(t, err)
	require.Equal(t, "MPS202405020001", nextDay)
}

func TestDisplayIDStreamsPerTenant(t *testing.T) {
	// Both entities render the same "MP" prefix; the streams must still be
	// independent because the counter key carries the full tenant name.
	alloc := NewAllocator(newMemoryStore())
	ctx := context.Background()

	shoes, err := alloc.Allocate(ctx, Scope{Tenant: shared.TenantMPShoes, Category: CategoryOrderDisplay})
	require.NoError(t, err)
	require.Equal(t, "MP1000", shoes)

	shoes, err = alloc.Allocate(ctx, Scope{Tenant: shared.TenantMPShoes, Category: CategoryOrderDisplay})
	require.NoError(t, err)
	require.Equal(t, "MP1001", shoes)

	footwear, err := alloc.Allocate(ctx, Scope{Tenant: shared.TenantMPFootwear, Category: CategoryOrderDisplay})
	require.NoError(t, err)
	require.Equal(t, "MP1000", footwear)
}

func TestAllocateSKURequiresQualifier(t *testing.T) {
	alloc := NewAllocator(newMemoryStore())
	ctx := context.Background()

	_, err := alloc.Allocate(ctx, Scope{Tenant: shared.TenantMPShoes, Category: CategorySKU})
	require.Error(t, err)

	sku, err := alloc.Allocate(ctx, Scope{Tenant: shared.TenantMPShoes, Category: CategorySKU, Qualifier: "snk"})
	require.NoError(t, err)
	require.Equal(t, "MPSNK0001", sku)
}

func TestAllocateYearlyStreams(t *testing.T) {
	alloc := NewAllocator(newMemoryStore())
	ctx := context.Background()

	bill, err := alloc.Allocate(ctx, Scope{Tenant: shared.TenantMPShoes, Category: CategoryBill, Date: mayDay(t)})
	require.NoError(t, err)
	require.Equal(t, "MPB2024-0001", bill)

	payment, err := alloc.Allocate(ctx, Scope{Tenant: shared.TenantMPShoes, Category: CategoryVendorPayment, Date: mayDay(t)})
	require.NoError(t, err)
	require.Equal(t, "MPP2024-0001", payment)
}

func TestAllocateUnknownCategory(t *testing.T) {
	alloc := NewAllocator(newMemoryStore())
	_, err := alloc.Allocate(context.Background(), Scope{Tenant: shared.TenantMPShoes, Category: Category("bogus")})
	require.ErrorIs(t, err, ErrUnknownCategory)
}

func TestAllocateConcurrent(t *testing.T) {
	const workers = 64

	alloc := NewAllocator(newMemoryStore())
	scope := Scope{Tenant: shared.TenantMPShoes, Category: CategoryOrder, Date: mayDay(t)}

	var wg sync.WaitGroup
	results := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := alloc.Allocate(context.Background(), scope)
			require.NoError(t, err)
			results <- id
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool, workers)
	for id := range results {
		require.False(t, seen[id], "identifier %s issued twice", id)
		seen[id] = true
	}
	require.Len(t, seen, workers)

	// Contiguous from 1: every suffix in [1, workers] must be present.
	for k := 1; k <= workers; k++ {
		require.True(t, seen[fmt.Sprintf("MPO20240501%06d", k)], "missing suffix %d", k)
	}
}

func TestSeedFromExisting(t *testing.T) {
	store := newMemoryStore()
	alloc := NewAllocator(store)
	ctx := context.Background()
	scope := Scope{Tenant: shared.TenantMPShoes, Category: CategoryVendor}

	require.NoError(t, alloc.SeedFromExisting(ctx, scope, "MPV0042"))

	next, err := alloc.Allocate(ctx, scope)
	require.NoError(t, err)
	require.Equal(t, "MPV0043", next)

	// Seeding below the current counter must not rewind the stream.
	require.NoError(t, alloc.SeedFromExisting(ctx, scope, "MPV0007"))
	next, err = alloc.Allocate(ctx, scope)
	require.NoError(t, err)
	require.Equal(t, "MPV0044", next)
}

func TestSeedFromExistingCorruptSuffix(t *testing.T) {
	alloc := NewAllocator(newMemoryStore())
	scope := Scope{Tenant: shared.TenantMPShoes, Category: CategoryVendor}

	err := alloc.SeedFromExisting(context.Background(), scope, "MPVFOUR2")
	require.ErrorIs(t, err, ErrCorruptSequenceState)

	err = alloc.SeedFromExisting(context.Background(), scope, "XXV0001")
	require.ErrorIs(t, err, ErrCorruptSequenceState)
}

func TestParseSuffixAfterWidthOverflow(t *testing.T) {
	n, err := ParseSuffix("MP", "MP12345")
	require.NoError(t, err)
	require.EqualValues(t, 12345, n)
}
