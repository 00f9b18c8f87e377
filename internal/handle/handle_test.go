package handle

import "testing"

func TestZeroHandleInvalid(t *testing.T) {
	var table Table[string]
	var h Handle

	if h.Valid() {
		t.Fatal("zero handle reported valid")
	}
	if _, ok := table.Get(h); ok {
		t.Fatal("zero handle resolved")
	}
}

func TestInsertGetRemove(t *testing.T) {
	var table Table[string]

	a := table.Insert("a")
	b := table.Insert("b")

	if a == b {
		t.Fatal("distinct inserts returned the same handle")
	}

	if v, ok := table.Get(a); !ok || v != "a" {
		t.Fatalf("Get(a) = %q, %v", v, ok)
	}
	if table.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", table.Len())
	}

	v, ok := table.Remove(a)
	if !ok || v != "a" {
		t.Fatalf("Remove(a) = %q, %v", v, ok)
	}
	if table.Contains(a) {
		t.Fatal("removed handle still resolves")
	}
	if _, ok := table.Remove(a); ok {
		t.Fatal("double remove succeeded")
	}
	if table.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", table.Len())
	}
}

func TestStaleHandleAfterReuse(t *testing.T) {
	var table Table[int]

	old := table.Insert(1)
	table.Remove(old)
	reused := table.Insert(2)

	if reused.Index() != old.Index() {
		t.Fatalf("slot not reused: old %d, new %d", old.Index(), reused.Index())
	}
	if reused.Generation() == old.Generation() {
		t.Fatal("generation not bumped on reuse")
	}
	if _, ok := table.Get(old); ok {
		t.Fatal("stale handle resolved to reused slot")
	}
	if v, _ := table.Get(reused); v != 2 {
		t.Fatalf("Get(reused) = %d, want 2", v)
	}
}

func TestEachVisitsLiveEntries(t *testing.T) {
	var table Table[int]

	handles := []Handle{table.Insert(10), table.Insert(20), table.Insert(30)}
	table.Remove(handles[1])

	sum := 0
	count := 0
	table.Each(func(h Handle, v int) {
		sum += v
		count++
	})

	if count != 2 || sum != 40 {
		t.Fatalf("Each visited %d entries summing %d", count, sum)
	}
}
