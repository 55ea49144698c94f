package store

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func runStoreTests(t *testing.T, s Store) {
	t.Helper()

	if err := s.Insert("k1", []byte("v1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert("k1", []byte("v2")); !errors.Is(err, ErrExists) {
		t.Errorf("second Insert err = %v, want ErrExists", err)
	}

	got, err := s.Get("k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("Get = %q, want v1 (failed insert must not overwrite)", got)
	}

	if err := s.Put("k1", []byte("v3")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, _ = s.Get("k1")
	if string(got) != "v3" {
		t.Errorf("Get after Put = %q, want v3", got)
	}

	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing err = %v, want ErrNotFound", err)
	}

	s.Put("pick:a", []byte("1"))
	s.Put("pick:b", []byte("2"))
	s.Put("other:c", []byte("3"))

	var keys []string
	err = s.ForEach("pick:", func(key string, _ []byte) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("ForEach visited %v, want the two pick: keys", keys)
	}
}

func TestMemory(t *testing.T) {
	runStoreTests(t, NewMemory())
}

func TestBadger(t *testing.T) {
	db, err := OpenBadger(t.TempDir())
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	defer db.Close()
	runStoreTests(t, db)
}

func TestInsertConcurrentUnique(t *testing.T) {
	s := NewMemory()

	const goroutines = 32
	var won int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if err := s.Insert("key", []byte("v")); err == nil {
				atomic.AddInt64(&won, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if won != 1 {
		t.Errorf("successful inserts = %d, want exactly 1", won)
	}
}
