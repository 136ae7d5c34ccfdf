package buildledgersdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientSendsCredentialsAndDecodes(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":3,"exists":true,"status":"SUBMITTED","hashes":["ab"],"submitter_id":"0xA","submissions":1}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	m, err := c.SubmitMilestone(context.Background(), 3, "slab", []string{"ab"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if gotAuth != "Bearer tok" || gotPath != "/v0/milestones/3/submit" {
		t.Fatalf("unexpected request auth=%q path=%q", gotAuth, gotPath)
	}
	if gotBody["description"] != "slab" {
		t.Fatalf("unexpected body %v", gotBody)
	}
	if !m.Exists || m.Status != "SUBMITTED" || m.SubmitterID != "0xA" {
		t.Fatalf("unexpected milestone %+v", m)
	}
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"code":"invalid_transition","message":"invalid milestone transition"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.APIKey = "bl_key"
	_, err := c.ApproveMilestone(context.Background(), 1)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "invalid_transition" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestEventsFollowsCursor(t *testing.T) {
	var afters []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		after := r.URL.Query().Get("after")
		afters = append(afters, after)
		w.Header().Set("Content-Type", "application/json")
		if after == "" {
			w.Write([]byte(`{"items":[{"seq":1},{"seq":2}],"next_cursor":"2"}`))
			return
		}
		w.Write([]byte(`{"items":[{"seq":3}]}`))
	}))
	defer srv.Close()

	items, err := New(srv.URL).Events(context.Background(), EventQuery{Kind: "milestone.submitted", Limit: 2})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(items) != 3 || items[2].Seq != 3 {
		t.Fatalf("unexpected events %+v", items)
	}
	if len(afters) != 2 || afters[1] != "2" {
		t.Fatalf("unexpected cursors %v", afters)
	}
}
