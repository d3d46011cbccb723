package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kcartlabs/kcartbot/internal/api"
	"github.com/kcartlabs/kcartbot/internal/push"
	"github.com/kcartlabs/kcartbot/internal/timeline"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// nullConn blocks reads until closed so the channel stays open quietly.
type nullConn struct {
	closeOnce sync.Once
	closed    chan struct{}
}

func newNullConn() *nullConn {
	return &nullConn{closed: make(chan struct{})}
}

func (c *nullConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, errors.New("closed")
}

func (c *nullConn) WriteMessage(int, []byte) error { return nil }

func (c *nullConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

type recordingDialer struct {
	mu   sync.Mutex
	urls []string
}

func (d *recordingDialer) Dial(urlStr string, _ http.Header) (push.Conn, error) {
	d.mu.Lock()
	d.urls = append(d.urls, urlStr)
	d.mu.Unlock()
	return newNullConn(), nil
}

func (d *recordingDialer) lastURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.urls) == 0 {
		return ""
	}
	return d.urls[len(d.urls)-1]
}

func (d *recordingDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

// waitDialCount polls for asynchronous dials settling at want.
func waitDialCount(t *testing.T, d *recordingDialer, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d.dialCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("dial count = %d, want %d", d.dialCount(), want)
}

// backend is a minimal in-process stand-in for the HTTP API.
type backend struct {
	mu          sync.Mutex
	validToken  string
	history     []api.HistoryMessage
	loggedOut   bool
	loginCalled bool
}

func (b *backend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/auth/token/login/", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.loginCalled = true
		token := b.validToken
		b.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"auth_token": token})
	})

	mux.HandleFunc("/auth/users/me/", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		valid := r.Header.Get("Authorization") == "Token "+b.validToken && b.validToken != ""
		b.mu.Unlock()
		if !valid {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail": "Invalid token."}`))
			return
		}
		json.NewEncoder(w).Encode(api.User{ID: 1, Username: "alice", Role: "customer"})
	})

	mux.HandleFunc("/auth/token/logout/", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.loggedOut = true
		b.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/api/chat/", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		history := b.history
		b.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"history": history})
	})

	mux.HandleFunc("/api/notifications/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"notifications": []api.Notification{}, "count": 0})
	})

	return mux
}

type fixture struct {
	controller *Controller
	merger     *timeline.Merger
	store      *timeline.Store
	dialer     *recordingDialer
	backend    *backend
	credPath   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	b := &backend{validToken: "tok-valid", history: []api.HistoryMessage{
		{Sender: "user", Message: "hi"},
		{Sender: "bot", Message: "hello"},
	}}
	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	credPath := filepath.Join(dir, "credentials")

	client := api.NewClient(srv.URL)
	dialer := &recordingDialer{}
	registry := push.NewRegistry(discardLogger())
	channel := push.NewChannel("ws://backend/ws/chat/", registry, push.Options{
		Dialer: dialer,
		Logger: discardLogger(),
	})

	tl := timeline.New(0)
	merger := timeline.NewMerger(tl, client, client, client, timeline.MergerOptions{Logger: discardLogger()})
	store := timeline.NewStore(filepath.Join(dir, "chat_history.json"), 20, discardLogger())
	registry.Subscribe(merger.HandleEvent)

	controller := NewController(client, channel, merger, store, credPath, discardLogger())
	return &fixture{
		controller: controller,
		merger:     merger,
		store:      store,
		dialer:     dialer,
		backend:    b,
		credPath:   credPath,
	}
}

func TestStartAnonymous(t *testing.T) {
	f := newFixture(t)
	f.store.Save([]timeline.Message{{ID: "1", Sender: timeline.SenderUser, Body: "local"}})

	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if f.controller.Mode() != ModeAnonymous {
		t.Errorf("mode = %s", f.controller.Mode())
	}
	msgs := f.merger.Timeline().Messages()
	if len(msgs) != 1 || msgs[0].Body != "local" {
		t.Errorf("timeline = %+v", msgs)
	}
}

func TestAnonymousSessionNeverDials(t *testing.T) {
	f := newFixture(t)

	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The backend rejects unauthenticated sockets; the channel must
	// stay down until a token exists.
	time.Sleep(100 * time.Millisecond)
	if got := f.dialer.dialCount(); got != 0 {
		t.Fatalf("anonymous session dialed websocket %d times (%s)", got, f.dialer.lastURL())
	}

	if _, err := f.controller.Login(context.Background(), "alice", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	waitDialCount(t, f.dialer, 1)
	if got, want := f.dialer.lastURL(), "ws://backend/ws/chat/?token=tok-valid"; got != want {
		t.Errorf("dial url = %s, want %s", got, want)
	}

	f.controller.Logout(context.Background())
	time.Sleep(100 * time.Millisecond)
	if got := f.dialer.dialCount(); got != 1 {
		t.Errorf("logout triggered %d extra dial(s)", got-1)
	}
}

func TestStartWithValidToken(t *testing.T) {
	f := newFixture(t)
	if err := os.WriteFile(f.credPath, []byte("tok-valid\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if f.controller.Mode() != ModeAuthenticated {
		t.Fatalf("mode = %s", f.controller.Mode())
	}
	if u := f.controller.User(); u == nil || u.Username != "alice" {
		t.Errorf("user = %+v", u)
	}
	if got := f.merger.Timeline().Len(); got != 2 {
		t.Errorf("history len = %d, want 2", got)
	}
}

func TestStartWithStaleTokenFallsBack(t *testing.T) {
	f := newFixture(t)
	if err := os.WriteFile(f.credPath, []byte("tok-stale\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if f.controller.Mode() != ModeAnonymous {
		t.Errorf("mode = %s", f.controller.Mode())
	}
	if _, err := os.Stat(f.credPath); !os.IsNotExist(err) {
		t.Error("stale credentials were not discarded")
	}
}

func TestLoginSwitchesToServerHistory(t *testing.T) {
	f := newFixture(t)
	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.merger.Timeline().Append(timeline.Message{ID: "anon", Body: "local chatter"})

	user, err := f.controller.Login(context.Background(), "alice", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if user.Username != "alice" {
		t.Errorf("user = %+v", user)
	}
	if f.controller.Mode() != ModeAuthenticated {
		t.Errorf("mode = %s", f.controller.Mode())
	}

	// Server history replaces the anonymous transcript.
	msgs := f.merger.Timeline().Messages()
	if len(msgs) != 2 || msgs[0].Body != "hi" {
		t.Errorf("timeline = %+v", msgs)
	}

	data, err := os.ReadFile(f.credPath)
	if err != nil {
		t.Fatalf("credentials not written: %v", err)
	}
	if strings.TrimSpace(string(data)) != "tok-valid" {
		t.Errorf("stored token = %q", data)
	}
	info, _ := os.Stat(f.credPath)
	if info.Mode().Perm() != 0600 {
		t.Errorf("credentials mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestLogoutReturnsToAnonymous(t *testing.T) {
	f := newFixture(t)
	if err := os.WriteFile(f.credPath, []byte("tok-valid\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	f.controller.Logout(context.Background())

	if f.controller.Mode() != ModeAnonymous {
		t.Errorf("mode = %s", f.controller.Mode())
	}
	if f.controller.User() != nil {
		t.Error("user survived logout")
	}
	if _, err := os.Stat(f.credPath); !os.IsNotExist(err) {
		t.Error("credentials survived logout")
	}
	if got := f.merger.Timeline().Len(); got != 0 {
		t.Errorf("timeline len = %d after logout", got)
	}

	f.backend.mu.Lock()
	loggedOut := f.backend.loggedOut
	f.backend.mu.Unlock()
	if !loggedOut {
		t.Error("server logout was not called")
	}
}

func TestLogoutRestoresAnonymousHistory(t *testing.T) {
	f := newFixture(t)
	f.store.Save([]timeline.Message{{ID: "1", Sender: timeline.SenderUser, Body: "pre-login"}})
	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := f.controller.Login(context.Background(), "alice", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got := f.merger.Timeline().Len(); got != 2 {
		t.Fatalf("server history len = %d, want 2", got)
	}

	f.controller.Logout(context.Background())

	// The transcript on disk is untouched by logout and comes back.
	msgs := f.merger.Timeline().Messages()
	if len(msgs) != 1 || msgs[0].Body != "pre-login" {
		t.Errorf("timeline after logout = %+v", msgs)
	}
	if got := f.store.Load(); len(got) != 1 {
		t.Errorf("persisted history = %+v", got)
	}
}

func TestPersistAnonymous(t *testing.T) {
	f := newFixture(t)
	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	f.merger.Timeline().Append(timeline.Message{ID: "1", Sender: timeline.SenderUser, Body: "keep me"})
	f.controller.PersistAnonymous()

	if got := f.store.Load(); len(got) != 1 || got[0].Body != "keep me" {
		t.Errorf("persisted = %+v", got)
	}
}

func TestPersistAnonymousNoopWhenAuthenticated(t *testing.T) {
	f := newFixture(t)
	if err := os.WriteFile(f.credPath, []byte("tok-valid\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	f.controller.PersistAnonymous()

	if got := f.store.Load(); got != nil {
		t.Errorf("authenticated session wrote the anonymous store: %+v", got)
	}
}
