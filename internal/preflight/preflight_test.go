package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"intake/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckDirectoryAccess_Empty(t *testing.T) {
	if result := CheckReadableDirectory("test", " "); result.Passed {
		t.Fatal("expected failure for unset path")
	}
}

func TestCheckServer_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sessions":["S1","S2"]}`))
	}))
	defer srv.Close()

	result := CheckServer(context.Background(), srv.URL, "good-token")
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if result.Detail != "Reachable (2 sessions)" {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckServer_BadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	result := CheckServer(context.Background(), srv.URL, "bad-token")
	if result.Passed {
		t.Fatal("expected failure for bad token")
	}
}

func TestCheckServer_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if result := CheckServer(context.Background(), url, ""); result.Passed {
		t.Fatal("expected failure for closed server")
	}
}

func TestCheckServer_MissingURL(t *testing.T) {
	if result := CheckServer(context.Background(), "", "token"); result.Passed {
		t.Fatal("expected failure for missing URL")
	}
}

func TestCheckServerFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Operator.ServerURL = ""
	if result := CheckServerFromConfig(context.Background(), &cfg); result.Passed || result.Detail != "Missing server_url" {
		t.Fatalf("unexpected result %+v", result)
	}
	if result := CheckServerFromConfig(context.Background(), nil); result.Passed {
		t.Fatal("expected failure for nil config")
	}
}

func TestCheckHolderFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Operator.Holder = ""
	if CheckHolderFromConfig(&cfg).Passed {
		t.Fatal("expected failure without holder")
	}
	cfg.Operator.Holder = "alice"
	if result := CheckHolderFromConfig(&cfg); !result.Passed || result.Detail != "alice" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_MinimalConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Paths.ImageRoot = ""

	results := RunAll(context.Background(), &cfg)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures %+v", failed)
	}
}

func TestRunAll_ReportsMissingImageRoot(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Paths.ImageRoot = filepath.Join(t.TempDir(), "missing")

	failed := Failed(RunAll(context.Background(), &cfg))
	if len(failed) != 1 || failed[0].Name != "Image root" {
		t.Fatalf("expected image root failure, got %+v", failed)
	}
}
