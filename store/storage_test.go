package store

import (
	"errors"
	"testing"
	"time"
)

func TestMemoryStorageRoundtrip(t *testing.T) {
	s := NewMemoryStorage()
	defer s.Close()

	if err := s.Set("k", []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := s.Get("k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Expected 'v', got %q", got)
	}

	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get("k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStorageExpiry(t *testing.T) {
	s := NewMemoryStorage()
	defer s.Close()

	if err := s.Set("k", []byte("v"), 50*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	time.Sleep(80 * time.Millisecond)

	if _, err := s.Get("k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected expired entry to read as missing, got %v", err)
	}
	if _, err := s.Take("k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected expired entry not to be takeable, got %v", err)
	}
}

func TestMemoryStorageExpiredReadKeepsFreshWrite(t *testing.T) {
	s := NewMemoryStorage()
	defer s.Close()

	// A Get observing an expired entry must not clobber a Set that
	// replaced the entry while the Get was in flight.
	for i := 0; i < 200; i++ {
		s.mu.Lock()
		s.store["k"] = memoryEntry{val: []byte("old"), exp: time.Now().Add(-time.Minute)}
		s.mu.Unlock()

		done := make(chan struct{})
		go func() {
			_, _ = s.Get("k")
			close(done)
		}()
		if err := s.Set("k", []byte("new"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		<-done

		got, err := s.Get("k")
		if err != nil || string(got) != "new" {
			t.Fatalf("Expected fresh value to survive a concurrent expired read, got %q err=%v", got, err)
		}
	}
}

func TestMemoryStorageTakeOnce(t *testing.T) {
	s := NewMemoryStorage()
	defer s.Close()

	if err := s.Set("k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Take("k")
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Expected 'v', got %q", got)
	}
	if _, err := s.Take("k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected second Take to miss, got %v", err)
	}
}

func TestKeyRecordCodec(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond)
	rec := KeyRecord{Token: "abc123", IssuedAt: now, ExpiresAt: now.Add(time.Minute)}

	data, err := EncodeKeyRecord(rec)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := DecodeKeyRecord(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Token != rec.Token {
		t.Errorf("Expected token %q, got %q", rec.Token, decoded.Token)
	}
	if !decoded.ExpiresAt.Equal(rec.ExpiresAt) {
		t.Errorf("Expected expiry %v, got %v", rec.ExpiresAt, decoded.ExpiresAt)
	}
}

func TestMemoryPubSub(t *testing.T) {
	p := NewMemoryPubSub()

	received := make(chan []byte, 1)
	cancel, err := p.Subscribe("ch", func(message []byte) {
		received <- message
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := p.Publish("ch", []byte("hello")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	select {
	case msg := <-received:
		if string(msg) != "hello" {
			t.Errorf("Expected 'hello', got %q", msg)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Expected a delivery")
	}

	cancel()

	if err := p.Publish("ch", []byte("after")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	select {
	case msg := <-received:
		t.Errorf("Expected no delivery after cancel, got %q", msg)
	case <-time.After(100 * time.Millisecond):
	}
}
