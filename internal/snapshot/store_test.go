package snapshot

import (
	"errors"
	"testing"
)

func newTestStore(t *testing.T, compressionOn bool, minBytes int) *Store {
	t.Helper()
	s, err := New(t.TempDir(), compressionOn, minBytes, 64)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t, false, 4096)

	if err := s.Put("tx1", "a.go", []byte("hello world"), false); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	data, isNone, err := s.Get("tx1", "a.go")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if isNone {
		t.Fatal("Get() reported isNone for a real snapshot")
	}
	if string(data) != "hello world" {
		t.Errorf("Get() = %q, want %q", data, "hello world")
	}
}

func TestPutGetRoundTripCompressed(t *testing.T) {
	s := newTestStore(t, true, 4) // compress anything >= 4 bytes
	large := make([]byte, 8192)
	for i := range large {
		large[i] = byte('a' + i%26)
	}

	if err := s.Put("tx1", "big.go", large, false); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	data, isNone, err := s.Get("tx1", "big.go")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if isNone {
		t.Fatal("Get() reported isNone for a real snapshot")
	}
	if string(data) != string(large) {
		t.Error("Get() after compressed Put() did not round-trip the original bytes")
	}
}

func TestPutGetRoundTripUncachedRead(t *testing.T) {
	s := newTestStore(t, true, 4)
	if err := s.Put("tx1", "a.go", []byte("content on disk"), false); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	// Force a fresh Store over the same directory so the read-through cache
	// is empty and Get must actually decode from disk.
	fresh, err := New(s.root, true, 4, 64)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	data, isNone, err := fresh.Get("tx1", "a.go")
	if err != nil {
		t.Fatalf("Get() on a fresh Store error: %v", err)
	}
	if isNone || string(data) != "content on disk" {
		t.Errorf("Get() on fresh Store = (%q, %v), want (\"content on disk\", false)", data, isNone)
	}
}

func TestPutNoneMarker(t *testing.T) {
	s := newTestStore(t, false, 4096)

	if err := s.Put("tx1", "deleted.go", nil, true); err != nil {
		t.Fatalf("Put(isNone=true) error: %v", err)
	}

	data, isNone, err := s.Get("tx1", "deleted.go")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !isNone {
		t.Fatal("Get() after a None Put should report isNone=true")
	}
	if len(data) != 0 {
		t.Errorf("Get() for a None marker returned non-empty data: %q", data)
	}
}

func TestPutNoneMarkerSurvivesFreshStore(t *testing.T) {
	s := newTestStore(t, false, 4096)
	if err := s.Put("tx1", "deleted.go", nil, true); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	fresh, err := New(s.root, false, 4096, 64)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	_, isNone, err := fresh.Get("tx1", "deleted.go")
	if err != nil {
		t.Fatalf("Get() on fresh Store error: %v", err)
	}
	if !isNone {
		t.Error("None marker should be recoverable from disk metadata, not just the in-memory cache")
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t, false, 4096)
	if _, _, err := s.Get("tx1", "never-stored.go"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() on an unstored path error = %v, want ErrNotFound", err)
	}
}

func TestForgetRemovesAllSnapshotsForTx(t *testing.T) {
	s := newTestStore(t, false, 4096)
	if err := s.Put("tx1", "a.go", []byte("a"), false); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("tx1", "b.go", []byte("b"), false); err != nil {
		t.Fatal(err)
	}

	if err := s.Forget("tx1"); err != nil {
		t.Fatalf("Forget() error: %v", err)
	}

	fresh, err := New(s.root, false, 4096, 64)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := fresh.Get("tx1", "a.go"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(a.go) after Forget() error = %v, want ErrNotFound", err)
	}
	if _, _, err := fresh.Get("tx1", "b.go"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(b.go) after Forget() error = %v, want ErrNotFound", err)
	}
}

func TestDistinctTransactionsDoNotCollide(t *testing.T) {
	s := newTestStore(t, false, 4096)
	if err := s.Put("tx1", "a.go", []byte("v1"), false); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("tx2", "a.go", []byte("v2"), false); err != nil {
		t.Fatal(err)
	}

	d1, _, _ := s.Get("tx1", "a.go")
	d2, _, _ := s.Get("tx2", "a.go")
	if string(d1) != "v1" || string(d2) != "v2" {
		t.Errorf("Get() per-transaction isolation broken: tx1=%q tx2=%q", d1, d2)
	}
}
