package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"intake/internal/api"
	"intake/internal/backlog"
	"intake/internal/config"
	"intake/internal/daemon"
	"intake/internal/logging"
	"intake/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      *backlog.Store
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	t.Setenv("INTAKE_HOLDER", "")
	t.Setenv("INTAKE_API_TOKEN", "")

	cfg := testsupport.NewConfig(t, testsupport.WithAPIToken("cli-secret"))
	store := testsupport.MustOpenStore(t, cfg)
	d, err := daemon.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	server := httptest.NewServer(d.Handler())
	t.Cleanup(server.Close)

	cfg.Operator.ServerURL = server.URL
	cfg.Operator.Holder = "alice"
	configPath := filepath.Join(testsupport.BaseDir(cfg), "intake.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{cfg: cfg, store: store, configPath: configPath}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLeaseCommandsLifecycle(t *testing.T) {
	env := setupCLITestEnv(t)
	items := testsupport.SeedItems(t, env.store, "S1", 2)
	first := strconv.FormatInt(items[0].ID, 10)

	out, err := env.run(t, "next", "S1")
	if err != nil {
		t.Fatalf("next failed: %v", err)
	}
	if !strings.Contains(out, "S1-1") || !strings.Contains(out, "[warn] leased") {
		t.Fatalf("unexpected next output:\n%s", out)
	}

	if _, err := env.run(t, "--holder", "bob", "renew", first); err == nil {
		t.Fatal("expected renew by another holder to fail")
	}
	if out, err = env.run(t, "renew", first); err != nil {
		t.Fatalf("renew failed: %v", err)
	}

	out, err = env.run(t, "submit", first, "--title", "Teapot", "--price", "4.50")
	if err != nil {
		t.Fatalf("submit failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "completed") {
		t.Fatalf("unexpected submit output %q", out)
	}

	out, err = env.run(t, "--json", "sessions")
	if err != nil {
		t.Fatalf("sessions failed: %v", err)
	}
	var statuses []api.SessionStatus
	if err := json.Unmarshal([]byte(out), &statuses); err != nil {
		t.Fatalf("decode sessions: %v\n%s", err, out)
	}
	if len(statuses) != 1 || statuses[0].Completed != 1 || statuses[0].Available != 1 {
		t.Fatalf("unexpected statuses %+v", statuses)
	}

	stored, err := env.store.GetByID(context.Background(), items[0].ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != backlog.StatusCompleted || stored.CompletedBy != "alice" {
		t.Fatalf("unexpected stored item %+v", stored)
	}
}

func TestNextReportsExhaustedSession(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.SeedItems(t, env.store, "S1", 1)
	testsupport.SeedItems(t, env.store, "S2", 1)

	if _, err := env.run(t, "next", "S1"); err != nil {
		t.Fatalf("next failed: %v", err)
	}
	_, err := env.run(t, "--holder", "bob", "next", "S1")
	if err == nil || !strings.Contains(err.Error(), "no item available") {
		t.Fatalf("expected exhaustion error, got %v", err)
	}
	if !strings.Contains(err.Error(), "sessions with work: S2") {
		t.Fatalf("expected S2 suggested, got %v", err)
	}

	out, err := env.run(t, "status", "S1")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !strings.Contains(out, "all remaining items are leased") && !strings.Contains(out, "next lease can lapse") {
		t.Fatalf("unexpected status output:\n%s", out)
	}
}

func TestSubmitValidatesLocally(t *testing.T) {
	env := setupCLITestEnv(t)

	_, err := env.run(t, "submit", "1", "--price", "2")
	if err == nil || !strings.Contains(err.Error(), "title") {
		t.Fatalf("expected title validation error, got %v", err)
	}
	_, err = env.run(t, "submit", "1", "--title", "x", "--price", "two")
	if err == nil || !strings.Contains(err.Error(), "--price") {
		t.Fatalf("expected price parse error, got %v", err)
	}
	if _, err := env.run(t, "submit", "abc"); err == nil {
		t.Fatal("expected invalid id error")
	}
}

func TestHolderRequired(t *testing.T) {
	env := setupCLITestEnv(t)
	env.cfg.Operator.Holder = ""
	writeTestConfig(t, env.configPath, env.cfg)

	_, err := env.run(t, "sessions")
	if err == nil || !strings.Contains(err.Error(), "operator identity") {
		t.Fatalf("expected holder error, got %v", err)
	}
}

func TestImportAndDBCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	manifestPath := filepath.Join(testsupport.BaseDir(env.cfg), "items.yaml")
	doc := "session: Spring 26\nitems:\n  - number: 1\n  - number: 2\n    sku: SKU-2\n"
	if err := os.WriteFile(manifestPath, []byte(doc), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	out, err := env.run(t, "import", "--dry-run", manifestPath)
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if !strings.Contains(out, "SPRING 26-2") || !strings.Contains(out, "nothing written") {
		t.Fatalf("unexpected dry run output:\n%s", out)
	}
	if sessions, _ := env.store.Sessions(context.Background()); len(sessions) != 0 {
		t.Fatalf("dry run wrote sessions %v", sessions)
	}

	out, err = env.run(t, "import", manifestPath)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if !strings.Contains(out, "Imported 2 items") {
		t.Fatalf("unexpected import output %q", out)
	}

	out, err = env.run(t, "db", "health")
	if err != nil {
		t.Fatalf("db health failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "[ok] yes") {
		t.Fatalf("unexpected health output:\n%s", out)
	}

	out, err = env.run(t, "db", "reclaim")
	if err != nil {
		t.Fatalf("db reclaim failed: %v", err)
	}
	if !strings.Contains(out, "Reclaimed 0") {
		t.Fatalf("unexpected reclaim output %q", out)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	target := filepath.Join(t.TempDir(), "conf", "intake.toml")

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample not written: %v", err)
	}

	cmd = newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected exists error, got %v", err)
	}

	out.Reset()
	cmd = newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", target, "config", "validate"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config validate failed: %v", err)
	}
	if !strings.Contains(out.String(), "Configuration valid") {
		t.Fatalf("unexpected validate output %q", out.String())
	}
}

func TestLogsPrintsTail(t *testing.T) {
	env := setupCLITestEnv(t)
	if err := os.MkdirAll(env.cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatalf("mkdir logs: %v", err)
	}
	path := filepath.Join(env.cfg.Paths.LogDir, "intaked.log")
	if err := os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, err := env.run(t, "logs", "-n", "2")
	if err != nil {
		t.Fatalf("logs failed: %v", err)
	}
	if out != "two\nthree\n" {
		t.Fatalf("unexpected logs output %q", out)
	}
}
