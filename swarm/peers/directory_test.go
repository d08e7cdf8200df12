package peers

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func at(seconds int) time.Time {
	return t0.Add(time.Duration(seconds) * time.Second)
}

func TestSweepExpiresSilentPeer(t *testing.T) {
	d := NewDirectory("10.0.0.1")

	assert.True(t, d.Upsert("10.0.0.2", at(0)))

	assert.Empty(t, d.Sweep(at(10), 15*time.Second))
	assert.Equal(t, []string{"10.0.0.2"}, d.Snapshot())

	assert.Equal(t, []string{"10.0.0.2"}, d.Sweep(at(16), 15*time.Second))
	assert.Empty(t, d.Snapshot())
}

func TestSweepBoundaryIsInclusive(t *testing.T) {
	d := NewDirectory("")
	d.Upsert("a", at(0))

	// Exactly ttl old is still alive
	assert.Empty(t, d.Sweep(at(15), 15*time.Second))
	assert.True(t, d.Contains("a"))
}

func TestUpsertRefreshesLastSeen(t *testing.T) {
	d := NewDirectory("self")

	assert.True(t, d.Upsert("a", at(0)))
	assert.False(t, d.Upsert("a", at(10)))

	assert.Empty(t, d.Sweep(at(20), 15*time.Second))

	records := d.Records()
	require.Len(t, records, 1)
	assert.Equal(t, at(10), records[0].LastSeen)
}

func TestUpsertIgnoresSelf(t *testing.T) {
	d := NewDirectory("10.0.0.1")

	assert.False(t, d.Upsert("10.0.0.1", at(0)))
	assert.False(t, d.Upsert("", at(0)))
	assert.Zero(t, d.Len())
	assert.False(t, d.Contains("10.0.0.1"))
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	d := NewDirectory("")
	d.Upsert("a", at(0))
	d.Upsert("b", at(0))

	snap := d.Snapshot()
	d.Upsert("c", at(1))
	d.Sweep(at(100), time.Second)

	assert.Equal(t, []string{"a", "b"}, snap)
	assert.Empty(t, d.Snapshot())
}

func TestClear(t *testing.T) {
	d := NewDirectory("")
	d.Upsert("a", at(0))
	d.Clear()
	assert.Zero(t, d.Len())
}

// Presence in the snapshot must match "last upsert within ttl of the last sweep" for any sequence of operations.
func TestRandomSequencesMatchModel(t *testing.T) {
	const ttl = 5 * time.Second
	rng := rand.New(rand.NewSource(42))
	addrs := []string{"a", "b", "c", "d", "self"}

	for round := 0; round < 200; round++ {
		d := NewDirectory("self")
		model := map[string]time.Time{}
		now := 0

		for step := 0; step < 50; step++ {
			now += rng.Intn(3)
			if rng.Intn(3) == 0 {
				d.Sweep(at(now), ttl)
				for addr, seen := range model {
					if at(now).Sub(seen) > ttl {
						delete(model, addr)
					}
				}
			} else {
				addr := addrs[rng.Intn(len(addrs))]
				d.Upsert(addr, at(now))
				if addr != "self" {
					model[addr] = at(now)
				}
			}

			snap := d.Snapshot()
			require.Len(t, snap, len(model), "round %d step %d", round, step)
			for _, addr := range snap {
				_, ok := model[addr]
				require.True(t, ok, "unexpected %s in round %d step %d", addr, round, step)
			}
		}
	}
}

func TestConcurrentUpsertsAreNotLost(t *testing.T) {
	d := NewDirectory("")

	const writers = 16
	const perWriter = 100

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				d.Upsert(fmt.Sprintf("10.%d.0.%d", w, i), at(0))
			}
		}(w)
	}

	// Concurrent readers must never observe a torn state
	stop := make(chan struct{})
	var rg sync.WaitGroup
	rg.Add(1)
	go func() {
		defer rg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = d.Snapshot()
			}
		}
	}()

	wg.Wait()
	close(stop)
	rg.Wait()

	assert.Equal(t, writers*perWriter, d.Len())
}

func TestConcurrentUpsertAndSweep(t *testing.T) {
	const ttl = 2 * time.Second
	d := NewDirectory("")

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				d.Upsert(fmt.Sprintf("peer-%d", w), at(i%10))
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			d.Sweep(at(i%20), ttl)
		}
	}()
	wg.Wait()

	// After a final sweep nothing older than ttl may remain
	now := at(30)
	d.Sweep(now, ttl)
	for _, r := range d.Records() {
		assert.LessOrEqual(t, now.Sub(r.LastSeen), ttl)
	}
}
