package daemon_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"intake/internal/api"
	"intake/internal/backlog"
	"intake/internal/config"
	"intake/internal/daemon"
	"intake/internal/logging"
	"intake/internal/testsupport"
)

type harness struct {
	t      *testing.T
	server *httptest.Server
	store  *backlog.Store
	clock  *testsupport.FakeClock
	cfg    *config.Config
	token  string
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	clock := testsupport.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	d, err := daemon.New(cfg, store, logging.NewNop(), daemon.WithClock(clock))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	server := httptest.NewServer(d.Handler())
	t.Cleanup(server.Close)
	return &harness{t: t, server: server, store: store, clock: clock, cfg: cfg, token: cfg.Paths.APIToken}
}

func (h *harness) do(method, path, holder string, body any) (*http.Response, []byte) {
	h.t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	if err != nil {
		h.t.Fatalf("new request: %v", err)
	}
	if holder != "" {
		req.Header.Set("X-Holder-ID", holder)
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	resp, err := h.server.Client().Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return out
}

func (h *harness) next(session, holder string) api.Item {
	h.t.Helper()
	resp, data := h.do(http.MethodPost, "/api/sessions/"+session+"/next", holder, nil)
	if resp.StatusCode != http.StatusOK {
		h.t.Fatalf("next: status %d body %s", resp.StatusCode, data)
	}
	return decode[api.ItemResponse](h.t, data).Item
}

func TestHTTPThreeItemScenario(t *testing.T) {
	h := newHarness(t)
	testsupport.SeedItems(t, h.store, "S1", 3)

	a := h.next("S1", "alice")
	b := h.next("S1", "bob")
	if a.ID == b.ID {
		t.Fatalf("alice and bob share item %d", a.ID)
	}
	if a.LeaseHolder != "alice" || a.Status != "leased" {
		t.Fatalf("unexpected lease %+v", a)
	}

	resp, data := h.do(http.MethodGet, "/api/sessions/S1/status", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d %s", resp.StatusCode, data)
	}
	status := decode[api.SessionStatus](t, data)
	if status.Total != 3 || status.Locked != 2 || status.NextLockedAt == "" {
		t.Fatalf("unexpected status %+v", status)
	}

	resp, data = h.do(http.MethodGet, "/api/sessions", "", nil)
	sessions := decode[api.SessionListResponse](t, data)
	if resp.StatusCode != http.StatusOK || len(sessions.Sessions) != 1 || sessions.Sessions[0] != "S1" {
		t.Fatalf("unexpected sessions %d %+v", resp.StatusCode, sessions)
	}
}

func TestHTTPNextExhaustedAndMissingHolder(t *testing.T) {
	h := newHarness(t)
	testsupport.SeedItems(t, h.store, "S1", 1)
	testsupport.SeedItems(t, h.store, "S2", 1)
	h.next("S1", "alice")

	resp, data := h.do(http.MethodPost, "/api/sessions/S1/next", "bob", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", resp.StatusCode, data)
	}
	body := decode[api.ErrorResponse](t, data)
	if body.Code != api.CodeNotFound {
		t.Fatalf("unexpected error body %+v", body)
	}
	if len(body.Suggestions) != 1 || body.Suggestions[0] != "S2" {
		t.Fatalf("expected S2 suggested, got %v", body.Suggestions)
	}

	h.next("S2", "carol")
	_, data = h.do(http.MethodPost, "/api/sessions/S1/next", "bob", nil)
	if body := decode[api.ErrorResponse](t, data); len(body.Suggestions) != 0 {
		t.Fatalf("no session has work, got suggestions %v", body.Suggestions)
	}

	resp, data = h.do(http.MethodPost, "/api/sessions/S1/next", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without holder, got %d %s", resp.StatusCode, data)
	}
}

func TestHTTPRenewConflictAndRelease(t *testing.T) {
	h := newHarness(t)
	testsupport.SeedItems(t, h.store, "S1", 1)
	item := h.next("S1", "alice")
	path := "/api/items/" + itoa(item.ID)

	resp, data := h.do(http.MethodPost, path+"/renew", "bob", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for foreign renew, got %d %s", resp.StatusCode, data)
	}
	if body := decode[api.ErrorResponse](t, data); body.Code != api.CodeConflict {
		t.Fatalf("unexpected error body %+v", body)
	}

	h.clock.Advance(100 * time.Second)
	resp, data = h.do(http.MethodPost, path+"/renew", "alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("renew: %d %s", resp.StatusCode, data)
	}
	renewal := decode[api.Renewal](t, data)
	if renewal.RenewedAt != "2026-03-01T09:01:40.000Z" || renewal.LeasedAt != "2026-03-01T09:00:00.000Z" {
		t.Fatalf("unexpected renewal %+v", renewal)
	}

	for range 2 {
		resp, data = h.do(http.MethodPost, path+"/release", "alice", nil)
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("release should be idempotent 204, got %d %s", resp.StatusCode, data)
		}
	}

	resp, _ = h.do(http.MethodPost, path+"/renew", "alice", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("renew after release should conflict, got %d", resp.StatusCode)
	}
}

func TestHTTPBeaconReleaseAlwaysAccepted(t *testing.T) {
	h := newHarness(t, testsupport.WithAPIToken("secret"))
	testsupport.SeedItems(t, h.store, "S1", 1)
	item := h.next("S1", "alice")

	post := func(path string) int {
		resp, err := h.server.Client().Post(h.server.URL+path, "text/plain", nil)
		if err != nil {
			t.Fatalf("beacon: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := post("/api/items/nope/release?beacon=1&holder=alice&token=secret"); code != http.StatusAccepted {
		t.Fatalf("malformed beacon should still be 202, got %d", code)
	}
	if code := post("/api/items/" + itoa(item.ID) + "/release?beacon=1&holder=alice&token=wrong"); code != http.StatusUnauthorized {
		t.Fatalf("beacon with wrong token should be 401, got %d", code)
	}
	if code := post("/api/items/" + itoa(item.ID) + "/release?beacon=1&holder=alice&token=secret"); code != http.StatusAccepted {
		t.Fatalf("beacon should be 202, got %d", code)
	}

	stored, err := h.store.GetByID(t.Context(), item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != backlog.StatusAvailable {
		t.Fatalf("beacon should have released the item, got %s", stored.Status)
	}
}

func TestHTTPAuthRequired(t *testing.T) {
	h := newHarness(t, testsupport.WithAPIToken("secret"))
	h.token = ""

	resp, data := h.do(http.MethodGet, "/api/sessions", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", resp.StatusCode, data)
	}
	if body := decode[api.ErrorResponse](t, data); body.Code != api.CodeUnauthorized {
		t.Fatalf("unexpected body %+v", body)
	}

	resp, _ = h.do(http.MethodGet, "/api/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health should not require auth, got %d", resp.StatusCode)
	}

	h.token = "secret"
	resp, _ = h.do(http.MethodGet, "/api/sessions", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}
}

func TestHTTPSubmitValidationAndCommit(t *testing.T) {
	h := newHarness(t)
	testsupport.SeedItems(t, h.store, "S1", 1)
	testsupport.WriteAssets(t, h.cfg.Paths.ImageRoot, "S1", "1", "1-1.jpg", "1-2.png")
	item := h.next("S1", "alice")
	path := "/api/items/" + itoa(item.ID)

	resp, data := h.do(http.MethodPost, path+"/submit", "alice", map[string]any{"price": -3})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", resp.StatusCode, data)
	}
	body := decode[api.ErrorResponse](t, data)
	if body.Code != api.CodeValidation || len(body.Fields) != 2 {
		t.Fatalf("unexpected validation body %+v", body)
	}

	resp, data = h.do(http.MethodPost, path+"/submit", "bob", map[string]any{"title": "Lamp"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for foreign submit, got %d %s", resp.StatusCode, data)
	}

	resp, data = h.do(http.MethodPost, path+"/submit", "alice", map[string]any{"title": "Lamp", "price": "12.50"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %s", resp.StatusCode, data)
	}
	done := decode[api.ItemResponse](t, data).Item
	if done.Status != "completed" || done.CompletedBy != "alice" || len(done.Record) == 0 {
		t.Fatalf("unexpected completed item %+v", done)
	}
	var record map[string]any
	if err := json.Unmarshal(done.Record, &record); err != nil {
		t.Fatalf("record: %v", err)
	}
	if record["imageCount"] != float64(2) || record["coverImage"] != "S1/1/1-1.jpg" {
		t.Fatalf("unexpected record %v", record)
	}

	resp, _ = h.do(http.MethodPost, path+"/submit", "alice", map[string]any{"title": "Lamp"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second submit should conflict, got %d", resp.StatusCode)
	}

	resp, data = h.do(http.MethodPost, "/api/items/424242/submit", "alice", map[string]any{"title": "Lamp"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("submit of unknown item should conflict, got %d %s", resp.StatusCode, data)
	}
}

func TestHTTPSkipAndItemRoutes(t *testing.T) {
	h := newHarness(t)
	testsupport.SeedItems(t, h.store, "S1", 2)
	testsupport.WriteAssets(t, h.cfg.Paths.ImageRoot, "S1", "1", "1-1.jpg")
	item := h.next("S1", "alice")
	path := "/api/items/" + itoa(item.ID)

	resp, data := h.do(http.MethodGet, path+"/assets", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("assets: %d %s", resp.StatusCode, data)
	}
	if listed := decode[api.AssetListResponse](t, data); len(listed.Assets) != 1 || listed.Assets[0].Name != "1-1.jpg" {
		t.Fatalf("unexpected assets %+v", listed)
	}

	resp, data = h.do(http.MethodPatch, path+"/url", "alice", api.UpdateURLRequest{URL: "https://example.com/p/1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update url: %d %s", resp.StatusCode, data)
	}
	if updated := decode[api.ItemResponse](t, data).Item; updated.URL != "https://example.com/p/1" {
		t.Fatalf("url not updated: %+v", updated)
	}

	resp, data = h.do(http.MethodPost, path+"/skip", "alice", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("skip: %d %s", resp.StatusCode, data)
	}
	next := h.next("S1", "alice")
	if next.ID == item.ID {
		t.Fatal("skipped item should go behind unskipped ones")
	}

	resp, _ = h.do(http.MethodPost, "/api/items/999/skip", "alice", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("skip missing item should 404, got %d", resp.StatusCode)
	}
	resp, _ = h.do(http.MethodGet, "/api/items/999", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing item should 404, got %d", resp.StatusCode)
	}
	resp, _ = h.do(http.MethodGet, "/api/items/abc", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad id should 400, got %d", resp.StatusCode)
	}
}

func TestHTTPHealth(t *testing.T) {
	h := newHarness(t)
	resp, data := h.do(http.MethodGet, "/api/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", resp.StatusCode, data)
	}
	health := decode[api.HealthResponse](t, data)
	if health.Status != "ok" || !health.Database.IntegrityCheck || health.LeaseTTL != h.cfg.Lease.TTLSeconds {
		t.Fatalf("unexpected health %+v", health)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected request id header")
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
