package sockmux

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aydenstechdungeon/sockmux/endpoint"
	"github.com/aydenstechdungeon/sockmux/store"
	"github.com/gofiber/fiber/v2"
)

// stubTransport stands in for a WebSocket connection at the
// endpoint.Transport boundary.
type stubTransport struct {
	mu        sync.Mutex
	frames    [][]byte
	closeCode int
	closed    bool
}

func (s *stubTransport) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	frame := make([]byte, len(data))
	copy(frame, data)
	s.frames = append(s.frames, frame)
	return nil
}

func (s *stubTransport) WriteClose(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeCode == 0 {
		s.closeCode = code
	}
	return nil
}

func (s *stubTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubTransport) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func openConfig() endpoint.Config {
	cfg := endpoint.DefaultConfig()
	cfg.UseConnectionKeys = false
	return cfg
}

func TestOpenIdempotent(t *testing.T) {
	m := New()
	defer m.Clear(50 * time.Millisecond)

	a, err := m.Open("/chat", openConfig())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	b, err := m.Open("/chat", openConfig())
	if err != nil {
		t.Fatalf("Second Open failed: %v", err)
	}
	if a != b {
		t.Error("Expected Open to return the existing controller for an occupied path")
	}
	if got := m.Get("/chat"); got != a {
		t.Error("Expected Get to resolve the controller")
	}
}

func TestOpenRawConflict(t *testing.T) {
	m := New()
	defer m.Clear(50 * time.Millisecond)

	if err := m.HandleRaw("/echo", func(c *fiber.Ctx) error { return nil }); err != nil {
		t.Fatalf("HandleRaw failed: %v", err)
	}
	if _, err := m.Open("/echo", openConfig()); err != ErrRouteOccupied {
		t.Errorf("Expected ErrRouteOccupied, got %v", err)
	}
	if err := m.HandleRaw("/echo", func(c *fiber.Ctx) error { return nil }); err != ErrRouteOccupied {
		t.Errorf("Expected ErrRouteOccupied for duplicate raw route, got %v", err)
	}
}

func TestOpenOnce(t *testing.T) {
	m := New()
	defer m.Clear(50 * time.Millisecond)

	var (
		mu    sync.Mutex
		calls int
	)
	url, err := m.OpenOnce("/pair", func(c *endpoint.Conn) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, endpoint.DefaultConfig())
	if err != nil {
		t.Fatalf("OpenOnce failed: %v", err)
	}

	i := strings.Index(url, "?key=")
	if i < 0 {
		t.Fatalf("Expected one-time URL to embed a key, got %q", url)
	}
	token := url[i+len("?key="):]

	ctl := m.Get("/pair")
	if ctl == nil {
		t.Fatal("Expected a controller behind the one-time route")
	}

	// Two attempts on the same one-time URL: exactly one is admitted,
	// the other bounces off the limit of 1.
	first := &stubTransport{}
	conn, err := ctl.Admit(context.Background(), first, &endpoint.Request{
		Path:   "/pair",
		Params: map[string]string{"key": token},
	})
	if err != nil {
		t.Fatalf("First admission failed: %v", err)
	}

	second := &stubTransport{}
	_, err = ctl.Admit(context.Background(), second, &endpoint.Request{
		Path:   "/pair",
		Params: map[string]string{"key": token},
	})
	if err == nil {
		t.Fatal("Expected second admission to be rejected")
	}
	second.mu.Lock()
	code := second.closeCode
	second.mu.Unlock()
	if code != endpoint.CloseTooManyConnections {
		t.Errorf("Expected code %d, got %d", endpoint.CloseTooManyConnections, code)
	}

	mu.Lock()
	if calls != 1 {
		t.Errorf("Expected connect handler to run exactly once, got %d", calls)
	}
	mu.Unlock()

	// The controller self-destroys once its single connection closes.
	ctl.HandleClose(conn, 1000, "done")
	if m.Get("/pair") != nil {
		t.Error("Expected one-time route removed after its connection closed")
	}
}

func TestOpenOnceOccupied(t *testing.T) {
	m := New()
	defer m.Clear(50 * time.Millisecond)

	if _, err := m.Open("/pair", openConfig()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := m.OpenOnce("/pair", nil, endpoint.DefaultConfig()); err != ErrRouteOccupied {
		t.Errorf("Expected ErrRouteOccupied, got %v", err)
	}
}

func TestOpenOnceRacingOpen(t *testing.T) {
	m := New()
	defer m.Clear(50 * time.Millisecond)

	// Whoever wins the path, a succeeding OpenOnce must own a
	// single-admission controller, never piggyback on a long-lived one.
	for i := 0; i < 50; i++ {
		path := fmt.Sprintf("/pair/%d", i)

		var (
			wg      sync.WaitGroup
			onceErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, onceErr = m.OpenOnce(path, nil, endpoint.DefaultConfig())
		}()
		go func() {
			defer wg.Done()
			_, _ = m.Open(path, openConfig())
		}()
		wg.Wait()

		if onceErr != nil {
			if onceErr != ErrRouteOccupied {
				t.Fatalf("Unexpected OpenOnce error on %s: %v", path, onceErr)
			}
			continue
		}
		ctl := m.Get(path)
		if ctl == nil || ctl.Config().Limit != 1 {
			t.Fatalf("Expected a succeeding OpenOnce to own %s with a limit of 1", path)
		}
	}
}

func TestDestroyDetachesRoute(t *testing.T) {
	m := New()
	ctl, err := m.Open("/chat", openConfig())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	ctl.Destroy()

	if m.Get("/chat") != nil {
		t.Error("Expected destroyed controller detached from the table")
	}
	// The path is free again.
	if _, err := m.Open("/chat", openConfig()); err != nil {
		t.Errorf("Expected path to be reusable, got %v", err)
	}
	m.Clear(time.Second)
}

func TestClear(t *testing.T) {
	m := New()

	var (
		mu        sync.Mutex
		destroyed []string
	)
	for _, path := range []string{"/a", "/b", "/c"} {
		ctl, err := m.Open(path, openConfig())
		if err != nil {
			t.Fatalf("Open %s failed: %v", path, err)
		}
		if _, err := ctl.Admit(context.Background(), &stubTransport{}, &endpoint.Request{Path: path}); err != nil {
			t.Fatalf("Admit on %s failed: %v", path, err)
		}
		p := path
		ctl.OnDestroy(func() {
			mu.Lock()
			destroyed = append(destroyed, p)
			mu.Unlock()
		})
	}

	start := time.Now()
	m.Clear(100 * time.Millisecond)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected concurrent shutdown within the deadline, took %v", elapsed)
	}

	if len(m.Paths()) != 0 {
		t.Errorf("Expected empty route table, got %v", m.Paths())
	}
	mu.Lock()
	n := len(destroyed)
	mu.Unlock()
	if n != 3 {
		t.Errorf("Expected all 3 controllers destroyed, got %d", n)
	}
}

func TestPublishLocal(t *testing.T) {
	m := New()
	defer m.Clear(50 * time.Millisecond)

	ctl, err := m.Open("/chat", openConfig())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	st := &stubTransport{}
	if _, err := ctl.Admit(context.Background(), st, &endpoint.Request{Path: "/chat"}); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}

	if err := m.Publish("/chat", []byte("hello")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if st.frameCount() != 1 {
		t.Errorf("Expected local delivery, got %d frames", st.frameCount())
	}

	if err := m.Publish("/nope", []byte("x")); err == nil {
		t.Error("Expected Publish to an unknown route to fail")
	}
}

func TestPublishRelay(t *testing.T) {
	relay := store.NewMemoryPubSub()
	m := New(Config{Relay: relay})
	defer m.Clear(50 * time.Millisecond)

	ctl, err := m.Open("/chat", openConfig())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	st := &stubTransport{}
	if _, err := ctl.Admit(context.Background(), st, &endpoint.Request{Path: "/chat"}); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}

	if err := m.Publish("/chat", []byte("relayed")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// Relay delivery is asynchronous.
	deadline := time.Now().Add(500 * time.Millisecond)
	for st.frameCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if st.frameCount() != 1 {
		t.Errorf("Expected relayed delivery, got %d frames", st.frameCount())
	}
}
