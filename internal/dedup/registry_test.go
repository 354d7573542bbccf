package dedup

import (
	"sync"
	"testing"
)

func TestCheckAndRegisterIdempotence(t *testing.T) {
	r := NewRegistry()
	data := []byte("some image bytes")

	id1, dup1, err := r.CheckAndRegister(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dup1 {
		t.Error("first registration reported duplicate")
	}

	id2, dup2, err := r.CheckAndRegister(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dup2 {
		t.Error("second registration not reported as duplicate")
	}
	if id1 != id2 {
		t.Errorf("identity changed between calls: %s != %s", id1, id2)
	}
	if got := r.KnownCount(); got != 1 {
		t.Errorf("KnownCount = %d, want 1", got)
	}
}

func TestCheckAndRegisterEmptyInput(t *testing.T) {
	r := NewRegistry()
	if _, _, err := r.CheckAndRegister(nil); err == nil {
		t.Error("expected error for empty input")
	}
	if got := r.KnownCount(); got != 0 {
		t.Errorf("KnownCount = %d after failed registration, want 0", got)
	}
}

func TestConcurrentCheckAndRegister(t *testing.T) {
	r := NewRegistry()
	data := []byte("contested bytes")

	const n = 64
	results := make(chan bool, n)
	var start sync.WaitGroup
	start.Add(1)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start.Wait()
			_, dup, err := r.CheckAndRegister(data)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results <- dup
		}()
	}

	start.Done()
	wg.Wait()
	close(results)

	fresh := 0
	for dup := range results {
		if !dup {
			fresh++
		}
	}
	if fresh != 1 {
		t.Errorf("got %d duplicate=false results, want exactly 1", fresh)
	}
	if got := r.KnownCount(); got != 1 {
		t.Errorf("KnownCount = %d, want 1", got)
	}
}

func TestLoadSkipsMalformedEntries(t *testing.T) {
	r := NewRegistry()
	valid := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"

	loaded := r.Load([]string{valid, "not-a-hash", "", "ABC"})
	if loaded != 1 {
		t.Errorf("Load returned %d, want 1", loaded)
	}
	if !r.Contains(valid) {
		t.Error("valid identity not loaded")
	}
	if got := r.KnownCount(); got != 1 {
		t.Errorf("KnownCount = %d, want 1", got)
	}
}

func TestRegisterValidatesShape(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("bogus"); err == nil {
		t.Error("expected error for malformed identity")
	}
	valid := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if err := r.Register(valid); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
