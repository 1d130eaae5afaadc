package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackzampolin/quire/internal/config"
	"github.com/jackzampolin/quire/internal/home"
	"github.com/jackzampolin/quire/internal/source"
	"github.com/jackzampolin/quire/internal/types"
)

// newTestManager returns a config manager writing to a temp home, tuned for
// fast retries and plain text output.
func newTestManager(t *testing.T) *config.Manager {
	t.Helper()
	dir := t.TempDir()
	mgr, err := config.NewManager(filepath.Join(dir, "config.yaml"), filepath.Join(dir, "library"))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	cfg := mgr.Get()
	cfg.NovelFormat = config.FormatText
	cfg.MinWaitTime = 1
	cfg.MaxWaitTime = 2
	cfg.MaxWorkers = 2
	if err := mgr.Apply(cfg); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	return mgr
}

func newTestServer(t *testing.T, port string, src source.Source) *Server {
	t.Helper()
	hd, err := home.New(t.TempDir())
	if err != nil {
		t.Fatalf("home.New() error = %v", err)
	}
	srv, err := New(Config{
		Host:          "127.0.0.1",
		Port:          port,
		ConfigManager: newTestManager(t),
		Home:          hd,
		Source:        src,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	_, port, _ := net.SplitHostPort(l.Addr().String())
	return port
}

func waitForServer(ctx context.Context, baseURL string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for server")
		case <-ticker.C:
			resp, err := http.Get(baseURL + "/health")
			if err != nil {
				continue
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
	}
}

func TestNew_RequiresConfigManager(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New() without config manager should fail")
	}
}

func TestServer_Lifecycle(t *testing.T) {
	src := source.NewMock()
	src.AddBook(types.BookMeta{BookID: "100", BookName: "Tide"}, 3)

	port := freePort(t)
	srv := newTestServer(t, port, src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(ctx)
	}()

	baseURL := "http://127.0.0.1:" + port
	if err := waitForServer(context.Background(), baseURL, 5*time.Second); err != nil {
		t.Fatal(err)
	}
	if !srv.IsRunning() {
		t.Error("IsRunning() = false while serving")
	}

	t.Run("double_start", func(t *testing.T) {
		if err := srv.Start(context.Background()); err == nil {
			t.Error("second Start() should fail")
		}
	})

	t.Run("ready_without_library", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/ready")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var ready ReadyResponse
		if err := json.NewDecoder(resp.Body).Decode(&ready); err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusServiceUnavailable || ready.Library != "missing" {
			t.Errorf("ready = %d %+v, want 503 missing", resp.StatusCode, ready)
		}
	})

	cancel()
	select {
	case err := <-serverErr:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
	if srv.IsRunning() {
		t.Error("IsRunning() = true after shutdown")
	}

	// The scheduler is closed with the server.
	if _, err := srv.Scheduler().Submit(context.Background(), jobsRequest("100")); err == nil {
		t.Error("Submit() after shutdown should fail")
	}
}

func TestServer_PortInUse(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	_, port, _ := net.SplitHostPort(l.Addr().String())

	srv := newTestServer(t, port, source.NewMock())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Start(ctx); err == nil {
		t.Fatal("Start() on a busy port should fail")
	}
	if srv.IsRunning() {
		t.Error("IsRunning() = true after failed start")
	}
}
