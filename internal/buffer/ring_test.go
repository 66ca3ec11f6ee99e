package buffer

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"liqstream/internal/models"
)

func record(i int) models.LiquidationRecord {
	return models.NewLiquidationRecord(
		1700000000000+int64(i)*1000,
		fmt.Sprintf("SYM%d", i),
		"Buy",
		models.NewQuantity(json.RawMessage(fmt.Sprintf(`"%d"`, i))),
		models.NewQuantity(json.RawMessage(`"1"`)),
	)
}

func TestRingEmptySnapshot(t *testing.T) {
	r := NewRing(DefaultCapacity)
	snap := r.Snapshot()
	if snap == nil || len(snap) != 0 {
		t.Fatalf("expected empty non-nil snapshot, got %#v", snap)
	}
}

func TestRingDefaultCapacity(t *testing.T) {
	if got := NewRing(0).Cap(); got != DefaultCapacity {
		t.Fatalf("expected default capacity %d, got %d", DefaultCapacity, got)
	}
}

func TestRingClampsOversizedCapacity(t *testing.T) {
	r := NewRing(500)
	if r.Cap() != DefaultCapacity {
		t.Fatalf("expected capacity clamped to %d, got %d", DefaultCapacity, r.Cap())
	}
	for i := 0; i < 2*DefaultCapacity; i++ {
		r.Push(record(i))
	}
	if got := len(r.Snapshot()); got != DefaultCapacity {
		t.Fatalf("expected %d records, got %d", DefaultCapacity, got)
	}
}

func TestRingNewestFirst(t *testing.T) {
	r := NewRing(DefaultCapacity)
	r1, r2 := record(1), record(2)
	r.Push(r1)
	r.Push(r2)

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 records, got %d", len(snap))
	}
	if snap[0].Symbol != r2.Symbol || snap[1].Symbol != r1.Symbol {
		t.Fatalf("unexpected order: %s, %s", snap[0].Symbol, snap[1].Symbol)
	}
}

func TestRingEvictsOldest(t *testing.T) {
	r := NewRing(DefaultCapacity)
	first := record(0)
	r.Push(first)
	for i := 1; i <= DefaultCapacity; i++ {
		r.Push(record(i))
		if r.Len() > DefaultCapacity {
			t.Fatalf("length %d exceeds capacity", r.Len())
		}
	}

	snap := r.Snapshot()
	if len(snap) != DefaultCapacity {
		t.Fatalf("expected %d records, got %d", DefaultCapacity, len(snap))
	}
	for _, rec := range snap {
		if rec.Symbol == first.Symbol {
			t.Fatalf("oldest record should have been evicted")
		}
	}
	if snap[0].Symbol != "SYM50" || snap[len(snap)-1].Symbol != "SYM1" {
		t.Fatalf("unexpected bounds: newest=%s oldest=%s", snap[0].Symbol, snap[len(snap)-1].Symbol)
	}
	for i := 1; i < len(snap); i++ {
		if snap[i-1].Timestamp < snap[i].Timestamp {
			t.Fatalf("snapshot not newest-first at %d", i)
		}
	}
}

func TestRingSnapshotIsCopy(t *testing.T) {
	r := NewRing(2)
	r.Push(record(1))
	r.Push(record(2))

	snap := r.Snapshot()
	r.Push(record(3))

	if len(snap) != 2 || snap[0].Symbol != "SYM2" || snap[1].Symbol != "SYM1" {
		t.Fatalf("snapshot changed after push: %+v", snap)
	}
	if now := r.Snapshot(); now[0].Symbol != "SYM3" || now[1].Symbol != "SYM2" {
		t.Fatalf("unexpected contents after push: %+v", now)
	}
}

func TestRingConcurrentWritersAndReaders(t *testing.T) {
	r := NewRing(DefaultCapacity)
	const writers, perWriter = 4, 500

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				r.Push(record(w*perWriter + i))
			}
		}(w)
	}

	done := make(chan struct{})
	var readers sync.WaitGroup
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				snap := r.Snapshot()
				if len(snap) > DefaultCapacity {
					t.Errorf("snapshot length %d exceeds capacity", len(snap))
					return
				}
				for _, rec := range snap {
					if rec.Symbol == "" || rec.Size.IsZero() {
						t.Errorf("observed partially written record: %+v", rec)
						return
					}
				}
			}
		}()
	}

	wg.Wait()
	close(done)
	readers.Wait()

	if r.Len() != DefaultCapacity {
		t.Fatalf("expected full buffer, got %d", r.Len())
	}
}
