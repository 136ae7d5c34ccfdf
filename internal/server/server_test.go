package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"buildledger/internal/config"
	"buildledger/internal/db"
	"buildledger/internal/domain"
	"buildledger/internal/engine"
	"buildledger/internal/migrate"
	"buildledger/internal/repo"
)

const (
	testSecret = "test-secret"
	admin      = "0xAD"
	contractor = "0xA"
	architect  = "0xB"
	investor   = "0xC"
	supplier   = "0xE"
)

var evidence = strings.Repeat("ab", 32)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("tower-a", admin)
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Log = quietLogger()
	if _, err := e.Bootstrap(ctx, admin); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true},
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func as(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func registerCast(t *testing.T, srv *testServer) {
	t.Helper()
	for _, p := range []struct{ id, role string }{
		{contractor, "contractor"},
		{architect, "architect"},
		{investor, "investor"},
		{supplier, "supplier"},
	} {
		res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/participants", map[string]any{
			"identity": p.id,
			"role":     p.role,
		}, as(admin))
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("register %s status %d: %s", p.id, res.StatusCode, string(data))
		}
	}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestMilestoneLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	registerCast(t, srv)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/milestones/1/submit", map[string]any{
		"description": "foundation poured",
		"hashes":      []string{evidence},
	}, as(contractor))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}
	var m MilestoneResponse
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal milestone: %v", err)
	}
	if m.Status != string(domain.StatusSubmitted) || m.SubmitterID != contractor || len(m.Hashes) != 1 || m.Hashes[0] != evidence {
		t.Fatalf("unexpected milestone after submit: %+v", m)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/deliveries", map[string]any{
		"delivery_id":  7,
		"milestone_id": 1,
		"hash":         "0x" + evidence,
		"description":  "rebar",
	}, as(supplier))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("log delivery status %d: %s", res.StatusCode, string(data))
	}

	for _, step := range []struct{ path, actor, want string }{
		{"verify", architect, string(domain.StatusVerified)},
		{"approve", investor, string(domain.StatusApproved)},
	} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/milestones/1/"+step.path, nil, as(step.actor))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s status %d: %s", step.path, res.StatusCode, string(data))
		}
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("unmarshal milestone: %v", err)
		}
		if m.Status != step.want {
			t.Fatalf("after %s expected %s, got %s", step.path, step.want, m.Status)
		}
	}
	if m.VerifierID == nil || *m.VerifierID != architect || m.ApproverID == nil || *m.ApproverID != investor {
		t.Fatalf("expected reviewers recorded, got %+v", m)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/milestones/1/deliveries", nil, as(investor))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("milestone deliveries status %d: %s", res.StatusCode, string(data))
	}
	var md MilestoneDeliveriesResponse
	if err := json.Unmarshal(data, &md); err != nil {
		t.Fatalf("unmarshal deliveries: %v", err)
	}
	if len(md.DeliveryIDs) != 1 || md.DeliveryIDs[0] != 7 || md.Items[0].SupplierID != supplier {
		t.Fatalf("unexpected deliveries: %+v", md)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/milestones?status=approved", nil, as(investor))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list milestones status %d: %s", res.StatusCode, string(data))
	}
	var list []MilestoneResponse
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(list) != 1 || list[0].ID != 1 {
		t.Fatalf("expected one approved milestone, got %+v", list)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events/verify", nil, as(investor))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("verify status %d: %s", res.StatusCode, string(data))
	}
	var report VerifyReportResponse
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	// bootstrap + 4 registrations + submit + delivery + verify + approve
	if !report.OK || report.Entries != 9 {
		t.Fatalf("unexpected verify report: %+v", report)
	}
}

func TestUnknownRecordsReadAsEmpty(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/milestones/42", nil, as("anyone"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get milestone status %d: %s", res.StatusCode, string(data))
	}
	var m MilestoneResponse
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Exists || m.Status != string(domain.StatusNotCreated) || m.Hashes == nil {
		t.Fatalf("expected empty milestone snapshot, got %+v", m)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/participants/nobody", nil, as("anyone"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get participant status %d: %s", res.StatusCode, string(data))
	}
	var p ParticipantResponse
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Registered || p.Role != "none" {
		t.Fatalf("expected unregistered participant, got %+v", p)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/deliveries/9", nil, as("anyone"))
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"exists":false`) {
		t.Fatalf("get delivery status %d: %s", res.StatusCode, string(data))
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	registerCast(t, srv)
	client := srv.Client()

	cases := []struct {
		name    string
		method  string
		path    string
		body    any
		headers map[string]string
		status  int
		code    string
	}{
		{"no identity", http.MethodPost, "/v0/milestones/1/submit", map[string]any{"hashes": []string{evidence}}, nil, http.StatusUnauthorized, "unauthorized"},
		{"wrong role", http.MethodPost, "/v0/milestones/1/submit", map[string]any{"hashes": []string{evidence}}, as(architect), http.StatusForbidden, "forbidden"},
		{"unregistered", http.MethodPost, "/v0/milestones/1/submit", map[string]any{"hashes": []string{evidence}}, as("0xF"), http.StatusForbidden, "forbidden"},
		{"empty evidence", http.MethodPost, "/v0/milestones/1/submit", map[string]any{"hashes": []string{}}, as(contractor), http.StatusUnprocessableEntity, "empty_evidence"},
		{"malformed hash", http.MethodPost, "/v0/milestones/1/submit", map[string]any{"hashes": []string{"xyz"}}, as(contractor), http.StatusBadRequest, "bad_request"},
		{"unregistered with malformed hash", http.MethodPost, "/v0/milestones/1/submit", map[string]any{"hashes": []string{"xyz"}}, as("0xF"), http.StatusForbidden, "forbidden"},
		{"wrong role with malformed delivery hash", http.MethodPost, "/v0/deliveries", map[string]any{"delivery_id": 1, "milestone_id": 1, "hash": "xyz"}, as(contractor), http.StatusForbidden, "forbidden"},
		{"missing hashes", http.MethodPost, "/v0/milestones/1/submit", map[string]any{"description": "x"}, as(contractor), http.StatusBadRequest, "bad_request"},
		{"negative id", http.MethodPost, "/v0/milestones/-1/verify", nil, as(architect), http.StatusBadRequest, "bad_request"},
		{"verify not created", http.MethodPost, "/v0/milestones/1/verify", nil, as(architect), http.StatusConflict, "invalid_transition"},
		{"already registered", http.MethodPost, "/v0/participants", map[string]any{"identity": contractor, "role": "investor"}, as(admin), http.StatusConflict, "already_registered"},
		{"invalid role", http.MethodPost, "/v0/participants", map[string]any{"identity": "0xF", "role": "mayor"}, as(admin), http.StatusUnprocessableEntity, "invalid_role"},
		{"non-admin registers", http.MethodPost, "/v0/participants", map[string]any{"identity": "0xF", "role": "supplier"}, as(contractor), http.StatusForbidden, "forbidden"},
		{"zero document hash", http.MethodPost, "/v0/documents", map[string]any{"hash": strings.Repeat("0", 64)}, as(architect), http.StatusUnprocessableEntity, "invalid_hash"},
		{"unknown status filter", http.MethodGet, "/v0/milestones?status=done", nil, as(architect), http.StatusBadRequest, "bad_request"},
		{"bad cursor", http.MethodGet, "/v0/events?after=abc", nil, as(architect), http.StatusBadRequest, "bad_request"},
		{"bad bearer", http.MethodGet, "/v0/me", nil, map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized, "invalid_credentials"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, data := doJSON(t, client, tc.method, srv.URL+tc.path, tc.body, tc.headers)
			if res.StatusCode != tc.status {
				t.Fatalf("expected status %d, got %d: %s", tc.status, res.StatusCode, string(data))
			}
			if got := errorCode(t, data); got != tc.code {
				t.Fatalf("expected code %q, got %q: %s", tc.code, got, string(data))
			}
		})
	}
}

func TestDuplicateDeliveryConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	registerCast(t, srv)
	client := srv.Client()
	body := map[string]any{"delivery_id": 3, "milestone_id": 5, "hash": evidence}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/deliveries", body, as(supplier))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("first delivery status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/deliveries", body, as(supplier))
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "duplicate_delivery" {
		t.Fatalf("expected duplicate_delivery, got %d: %s", res.StatusCode, string(data))
	}
}

func TestForbiddenDetailsNameRoles(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	registerCast(t, srv)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/milestones/1/submit", map[string]any{"hashes": []string{evidence}}, as(investor))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Error.Details["required_role"] != "contractor" || env.Error.Details["actual_role"] != "investor" {
		t.Fatalf("unexpected details: %+v", env.Error.Details)
	}
}

func TestJWTAndAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	registerCast(t, srv)
	client := srv.Client()

	token, err := SignToken(testSecret, architect, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me WhoAmIResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.Identity != architect || me.Role != "architect" || me.Source != "jwt" || !me.Registered {
		t.Fatalf("unexpected me: %+v", me)
	}

	wrong, err := SignToken("other-secret", architect, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + wrong})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign signature, got %d", res.StatusCode)
	}

	key := "bl_test_key"
	err = srv.Engine.Repo.InsertAPIKey(context.Background(), nil, domain.APIKey{
		ID:        "key-1",
		ActorID:   supplier,
		KeyHash:   repo.HashAPIKey(key),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("insert api key: %v", err)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/deliveries", map[string]any{
		"delivery_id":  1,
		"milestone_id": 1,
		"hash":         evidence,
	}, map[string]string{"X-Api-Key": key})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("delivery via api key status %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown api key, got %d", res.StatusCode)
	}
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	registerCast(t, srv)
	client := srv.Client()

	var seqs []int64
	cursor := ""
	for page := 0; page < 10; page++ {
		url := srv.URL + "/v0/events?limit=2"
		if cursor != "" {
			url += "&after=" + cursor
		}
		res, data := doJSON(t, client, http.MethodGet, url, nil, as(admin))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("events status %d: %s", res.StatusCode, string(data))
		}
		var p paginatedEvents
		if err := json.Unmarshal(data, &p); err != nil {
			t.Fatalf("unmarshal page: %v", err)
		}
		for _, ev := range p.Items {
			seqs = append(seqs, ev.Seq)
		}
		if p.NextCursor == "" {
			break
		}
		cursor = p.NextCursor
	}
	if len(seqs) != 5 {
		t.Fatalf("expected 5 events, got %v", seqs)
	}
	for i, seq := range seqs {
		if seq != int64(i+1) {
			t.Fatalf("expected contiguous seqs, got %v", seqs)
		}
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?kind="+domain.EventParticipantRegistered+"&actor_id="+admin, nil, as(admin))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("filtered events status %d: %s", res.StatusCode, string(data))
	}
	var p paginatedEvents
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(p.Items) != 5 || p.Items[1].Payload["role"] != "contractor" {
		t.Fatalf("unexpected filtered events: %+v", p.Items)
	}
}

func TestOpenAPIServed(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	if !strings.Contains(string(data), "/v0/milestones/{id}/submit") || !strings.Contains(string(data), "bearerAuth") {
		t.Fatalf("openapi missing expected content")
	}
}

func TestOpenAPIConcurrentFetch(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	const n = 8
	bodies := make([][]byte, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := client.Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				t.Errorf("fetch %d: %v", i, err)
				return
			}
			defer res.Body.Close()
			if res.StatusCode != http.StatusOK {
				t.Errorf("fetch %d: status %d", i, res.StatusCode)
				return
			}
			bodies[i], _ = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if !bytes.Equal(bodies[0], bodies[i]) {
			t.Fatalf("fetch %d returned a different document", i)
		}
	}

	var doc struct {
		Security []map[string][]string `json:"security"`
		Paths    map[string]map[string]struct {
			Security  *[]map[string][]string     `json:"security"`
			Responses map[string]json.RawMessage `json:"responses"`
		} `json:"paths"`
	}
	if err := json.Unmarshal(bodies[0], &doc); err != nil {
		t.Fatalf("decode openapi: %v", err)
	}
	if len(doc.Security) != 2 {
		t.Fatalf("expected two global security schemes, got %v", doc.Security)
	}
	health := doc.Paths["/v0/health"]["get"]
	if health.Security == nil || len(*health.Security) != 0 {
		t.Fatalf("health should be public, got %v", health.Security)
	}
	submit := doc.Paths["/v0/milestones/{id}/submit"]["post"]
	if _, ok := submit.Responses["default"]; !ok {
		t.Fatalf("submit lacks the default error response")
	}
}

type hookRecorder struct {
	mu       sync.Mutex
	fail     int
	requests []recordedHook
}

type recordedHook struct {
	header http.Header
	body   []byte
}

func (h *hookRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail > 0 {
		h.fail--
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	h.requests = append(h.requests, recordedHook{header: r.Header.Clone(), body: body})
	w.WriteHeader(http.StatusNoContent)
}

func (h *hookRecorder) received() []recordedHook {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]recordedHook(nil), h.requests...)
}

func TestWebhookDelivery(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	rec := &hookRecorder{}
	hookSrv := httptest.NewServer(rec)
	defer hookSrv.Close()

	d := NewWebhookDispatcher(srv.Engine, []config.Webhook{{
		URL:    hookSrv.URL,
		Events: []string{domain.EventMilestoneSubmitted},
		Secret: "hook-secret",
	}}, quietLogger())
	d.initCursors(ctx)

	registerCast(t, srv)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/milestones/4/submit", map[string]any{
		"hashes": []string{evidence},
	}, as(contractor))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}
	d.dispatchAll(ctx)

	got := rec.received()
	if len(got) != 1 {
		t.Fatalf("expected 1 webhook, got %d", len(got))
	}
	h := got[0]
	if h.header.Get("X-Buildledger-Event") != domain.EventMilestoneSubmitted {
		t.Fatalf("unexpected event header %q", h.header.Get("X-Buildledger-Event"))
	}
	if h.header.Get("X-Buildledger-Delivery") == "" {
		t.Fatalf("expected delivery id header")
	}
	if h.header.Get("X-Buildledger-Signature") != Sign("hook-secret", h.body) {
		t.Fatalf("signature mismatch")
	}
	var ev EventResponse
	if err := json.Unmarshal(h.body, &ev); err != nil {
		t.Fatalf("unmarshal webhook body: %v", err)
	}
	if ev.MilestoneID == nil || *ev.MilestoneID != 4 || h.header.Get("X-Buildledger-Seq") != fmt.Sprint(ev.Seq) {
		t.Fatalf("unexpected webhook body: %+v", ev)
	}

	d.dispatchAll(ctx)
	if len(rec.received()) != 1 {
		t.Fatalf("expected no redelivery")
	}
}

func TestWebhookRetriesAfterFailure(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	rec := &hookRecorder{fail: 1}
	hookSrv := httptest.NewServer(rec)
	defer hookSrv.Close()

	d := NewWebhookDispatcher(srv.Engine, []config.Webhook{{URL: hookSrv.URL}}, quietLogger())
	d.initCursors(ctx)
	registerCast(t, srv)

	d.dispatchAll(ctx)
	if len(rec.received()) != 0 {
		t.Fatalf("expected failed first attempt")
	}
	d.dispatchAll(ctx)
	got := rec.received()
	if len(got) != 4 {
		t.Fatalf("expected 4 registrations delivered after retry, got %d", len(got))
	}
	for _, h := range got {
		if h.header.Get("X-Buildledger-Signature") != "" {
			t.Fatalf("unsigned hook must not carry a signature")
		}
	}
}
