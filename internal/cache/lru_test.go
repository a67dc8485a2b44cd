package cache

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
)

func TestLRU_GetAfterPut(t *testing.T) {
	c := New[string, int](2)
	c.Put("a", 1)

	got, ok := c.Get("a")
	if !ok || got != 1 {
		t.Fatalf("Get(a) = %v, %v, want 1, true", got, ok)
	}

	c.Remove("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("Get(a) after Remove should miss")
	}
	// Removing again is a no-op.
	if c.Remove("a") {
		t.Error("Remove of missing key reported true")
	}
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](3)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	// Touch a so b becomes the oldest.
	c.Get("a")

	if !c.Put("d", 4) {
		t.Fatal("expected eviction when inserting at capacity")
	}
	if _, ok := c.Peek("b"); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := c.Peek(k); !ok {
			t.Errorf("%s should still be cached", k)
		}
	}
}

func TestLRU_ReplaceDoesNotEvict(t *testing.T) {
	c := New[string, int](2)
	c.Put("a", 1)
	c.Put("b", 2)
	if c.Put("a", 10) {
		t.Fatal("replacing an existing key must not evict")
	}
	if v, _ := c.Peek("a"); v != 10 {
		t.Errorf("a = %d, want 10", v)
	}
	// a was refreshed by the replace, so b goes next.
	c.Put("c", 3)
	if _, ok := c.Peek("b"); ok {
		t.Error("b should have been evicted after a was refreshed")
	}
}

func TestLRU_SizeNeverExceedsCapacity(t *testing.T) {
	const capacity = 7
	c := New[int, int](capacity)
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 2000; i++ {
		k := rng.Intn(50)
		switch rng.Intn(3) {
		case 0:
			c.Get(k)
		case 1:
			c.Put(k, i)
		default:
			c.Remove(k)
		}
		if n := c.Len(); n > capacity {
			t.Fatalf("step %d: Len() = %d exceeds capacity %d", i, n, capacity)
		}
	}
}

func TestLRU_ItemsOrderAndNoTouch(t *testing.T) {
	c := New[string, int](3)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)
	c.Get("a")

	items := c.Items()
	var keys []string
	for _, it := range items {
		keys = append(keys, it.Key)
	}
	if fmt.Sprint(keys) != "[b c a]" {
		t.Fatalf("Items() order = %v, want [b c a]", keys)
	}

	// Items must not have promoted anything: b is still the eviction victim.
	c.Put("d", 4)
	if _, ok := c.Peek("b"); ok {
		t.Error("Items() changed recency order")
	}
}

func TestLRU_RemoveFunc(t *testing.T) {
	c := New[string, string](5)
	c.Put("1", "alice")
	c.Put("2", "bob")
	c.Put("3", "alice")
	c.Put("4", "carol")

	n := c.RemoveFunc(func(_ string, v string) bool { return v == "alice" })
	if n != 2 {
		t.Fatalf("removed %d, want 2", n)
	}
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	for _, k := range []string{"2", "4"} {
		if _, ok := c.Peek(k); !ok {
			t.Errorf("%s should survive", k)
		}
	}
}

func TestLRU_RemoveFuncSkipsPanickingEntries(t *testing.T) {
	type rec struct{ author *string }
	alice := "alice"

	c := New[int, rec](4)
	c.Put(1, rec{author: &alice})
	c.Put(2, rec{}) // malformed: nil author
	c.Put(3, rec{author: &alice})

	n := c.RemoveFunc(func(_ int, v rec) bool { return *v.author == "alice" })
	if n != 2 {
		t.Fatalf("removed %d, want 2", n)
	}
	if _, ok := c.Peek(2); !ok {
		t.Error("malformed entry should be skipped, not removed")
	}
}

func TestLRU_ConcurrentAccess(t *testing.T) {
	c := New[int, int](16)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				k := (g*31 + i) % 40
				c.Put(k, i)
				c.Get(k)
				if i%50 == 0 {
					c.RemoveFunc(func(_ int, v int) bool { return v%7 == 0 })
				}
			}
		}(g)
	}
	wg.Wait()

	if c.Len() > c.Cap() {
		t.Fatalf("Len() = %d exceeds Cap() = %d", c.Len(), c.Cap())
	}
}

func TestLRU_Reset(t *testing.T) {
	c := New[string, int](2)
	c.Put("a", 1)
	c.Reset()
	if c.Len() != 0 {
		t.Fatalf("Len() after Reset = %d", c.Len())
	}
	c.Put("b", 2)
	if v, ok := c.Get("b"); !ok || v != 2 {
		t.Error("cache unusable after Reset")
	}
}
