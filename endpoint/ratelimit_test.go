package endpoint

import (
	"testing"
	"time"
)

func TestRateLimitWindow(t *testing.T) {
	l := NewRateLimiter(3, 1000*time.Millisecond)

	for i := 0; i < 3; i++ {
		if !l.Allow("client-a") {
			t.Fatalf("Expected request %d to be allowed", i+1)
		}
	}
	if l.Allow("client-a") {
		t.Error("Expected 4th request within the window to be denied")
	}

	time.Sleep(1050 * time.Millisecond)

	if !l.Allow("client-a") {
		t.Error("Expected request after the window elapsed to be allowed")
	}
	// Window reset to count 1, so two more still fit.
	if !l.Allow("client-a") || !l.Allow("client-a") {
		t.Error("Expected the fresh window to restart the counter at 1")
	}
	if l.Allow("client-a") {
		t.Error("Expected the fresh window to deny past the maximum")
	}
}

func TestRateLimitDenialDoesNotPenalize(t *testing.T) {
	l := NewRateLimiter(1, 100*time.Millisecond)

	if !l.Allow("client-a") {
		t.Fatal("Expected first request to be allowed")
	}
	// Pile on denials; they must not extend the window.
	for i := 0; i < 5; i++ {
		l.Allow("client-a")
	}

	time.Sleep(150 * time.Millisecond)

	if !l.Allow("client-a") {
		t.Error("Expected denials not to extend the window")
	}
}

func TestRateLimitClientsIndependent(t *testing.T) {
	l := NewRateLimiter(1, time.Minute)

	if !l.Allow("client-a") {
		t.Fatal("Expected client-a to be allowed")
	}
	if l.Allow("client-a") {
		t.Error("Expected client-a to be denied")
	}
	if !l.Allow("client-b") {
		t.Error("Expected client-b to have its own window")
	}
	if l.Len() != 2 {
		t.Errorf("Expected 2 tracked clients, got %d", l.Len())
	}
}
