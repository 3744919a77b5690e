// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/heliotherm/internal/config"
	"github.com/Thermoquad/heliotherm/internal/entity"
	"github.com/Thermoquad/heliotherm/internal/hub"
	"github.com/Thermoquad/heliotherm/pkg/opentherm"
)

// ============================================================
// Test Helpers
// ============================================================

type request struct {
	t  opentherm.MessageType
	id opentherm.MessageID
}

// fakeScheduler deduplicates like the hub queue.
type fakeScheduler struct {
	mu     sync.Mutex
	queued []request
}

func (f *fakeScheduler) Enqueue(t opentherm.MessageType, id opentherm.MessageID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.queued {
		if r.t == t && r.id == id {
			return false
		}
	}
	f.queued = append(f.queued, request{t, id})
	return true
}

func (f *fakeScheduler) Stats() opentherm.Statistics {
	st := opentherm.NewStatistics()
	st.Requests = 10
	st.Responses = 9
	st.Timeouts = 1
	return *st
}

func (f *fakeScheduler) State() hub.State { return hub.Idle }

func (f *fakeScheduler) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queued)
}

func ptr(v float64) *float64 { return &v }

func testServer(t *testing.T) (http.Handler, *fakeScheduler, *entity.Registry) {
	t.Helper()
	sched := &fakeScheduler{}
	reg, err := entity.Build([]config.EntityConfig{
		{Name: "boiler_temp", Kind: "sensor", MessageID: "FEED_TEMP", Read: "q7_8"},
		{Name: "ch_enable", Kind: "switch", MessageID: "STATUS", Read: "flag0_hb", Write: "flag0_hb"},
		{Name: "ch_setpoint", Kind: "number", MessageID: "CH_SETPOINT", Write: "q7_8", Min: ptr(10), Max: ptr(80)},
	}, sched, zerolog.Nop())
	if err != nil {
		t.Fatalf("entity.Build: %v", err)
	}

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "heliotherm_hub_queue_depth 0\n")
	})
	srv, err := New(Deps{Logger: zerolog.Nop(), Hub: sched, Entities: reg, Metrics: metrics, Version: "test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv.Handler(), sched, reg
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return resp
}

// ============================================================
// Tests
// ============================================================

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("expected error without hub")
	}
	if _, err := New(Deps{Hub: &fakeScheduler{}}); err == nil {
		t.Error("expected error without registry")
	}
}

func TestHealth(t *testing.T) {
	h, _, _ := testServer(t)
	w := do(t, h, http.MethodGet, "/api/v1/health", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	resp := decode(t, w)
	if resp["status"] != "ok" || resp["version"] != "test" || resp["hub_state"] != "IDLE" {
		t.Errorf("health = %v", resp)
	}
	if resp["entities"] != float64(3) {
		t.Errorf("entities = %v, want 3", resp["entities"])
	}
}

func TestStats(t *testing.T) {
	h, _, _ := testServer(t)
	resp := decode(t, do(t, h, http.MethodGet, "/api/v1/stats", ""))
	if resp["requests"] != float64(10) || resp["responses"] != float64(9) || resp["timeouts"] != float64(1) {
		t.Errorf("stats = %v", resp)
	}
}

func TestRequestID(t *testing.T) {
	h, _, _ := testServer(t)

	w := do(t, h, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not generated")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want client value", got)
	}
}

func TestNotFound(t *testing.T) {
	h, _, _ := testServer(t)
	w := do(t, h, http.MethodGet, "/api/v1/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if resp := decode(t, w); resp["code"] != ErrCodeNotFound {
		t.Errorf("error body = %v", resp)
	}
}

func TestEntities_List(t *testing.T) {
	h, _, _ := testServer(t)
	resp := decode(t, do(t, h, http.MethodGet, "/api/v1/entities", ""))
	if resp["count"] != float64(3) {
		t.Fatalf("count = %v", resp["count"])
	}
	first := resp["entities"].([]any)[0].(map[string]any)
	if first["name"] != "boiler_temp" || first["message_id"] != "FEED_TEMP" || first["value"] != nil {
		t.Errorf("first entity = %v", first)
	}
}

func TestEntities_Get(t *testing.T) {
	h, _, reg := testServer(t)

	e, _ := reg.Get("boiler_temp")
	f := opentherm.Frame{Type: uint8(opentherm.ReadAck), ID: uint8(opentherm.FeedTemp)}
	f.SetQ78(61.5)
	e.OnReceive(f)

	w := do(t, h, http.MethodGet, "/api/v1/entities/boiler_temp", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode(t, w)
	if resp["value"] != 61.5 || resp["valid"] != true {
		t.Errorf("entity = %v", resp)
	}

	if w := do(t, h, http.MethodGet, "/api/v1/entities/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing entity status = %d", w.Code)
	}
}

func TestEntities_Set(t *testing.T) {
	tests := []struct {
		name     string
		entity   string
		body     string
		wantCode int
		wantReq  *request
	}{
		{"number", "ch_setpoint", `{"value": 55}`, http.StatusAccepted, &request{opentherm.WriteData, opentherm.CHSetpoint}},
		{"switch bool", "ch_enable", `{"value": true}`, http.StatusAccepted, &request{opentherm.WriteData, opentherm.Status}},
		{"out of range", "ch_setpoint", `{"value": 95}`, http.StatusBadRequest, nil},
		{"read only", "boiler_temp", `{"value": 1}`, http.StatusConflict, nil},
		{"unknown", "nope", `{"value": 1}`, http.StatusNotFound, nil},
		{"bad json", "ch_setpoint", `{"value":`, http.StatusBadRequest, nil},
		{"bad value", "ch_setpoint", `{"value": "hot"}`, http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, sched, _ := testServer(t)
			w := do(t, h, http.MethodPut, "/api/v1/entities/"+tt.entity, tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantReq == nil {
				if len(sched.queued) != 0 {
					t.Errorf("unexpected enqueue %v", sched.queued)
				}
				return
			}
			if len(sched.queued) != 1 || sched.queued[0] != *tt.wantReq {
				t.Errorf("queued = %v, want %v", sched.queued, *tt.wantReq)
			}
		})
	}
}

func TestRequests_Enqueue(t *testing.T) {
	h, sched, _ := testServer(t)

	w := do(t, h, http.MethodPost, "/api/v1/requests", `{"type": "READ_DATA", "id": "ROOM_TEMP"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	if resp := decode(t, w); resp["queued"] != true || resp["id"] != "ROOM_TEMP" {
		t.Errorf("response = %v", resp)
	}

	w = do(t, h, http.MethodPost, "/api/v1/requests", `{"id": "24"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("duplicate status = %d", w.Code)
	}
	if resp := decode(t, w); resp["queued"] != false {
		t.Errorf("duplicate response = %v", resp)
	}
	if len(sched.queued) != 1 {
		t.Errorf("queued = %v", sched.queued)
	}
}

func TestRequests_Invalid(t *testing.T) {
	h, _, _ := testServer(t)
	for _, body := range []string{
		`{"type": "READ_ACK", "id": "ROOM_TEMP"}`,
		`{"type": "SHOUT", "id": "ROOM_TEMP"}`,
		`{"type": "READ_DATA", "id": "200"}`,
		`not json`,
	} {
		if w := do(t, h, http.MethodPost, "/api/v1/requests", body); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, w.Code)
		}
	}
}

func TestMetricsRoute(t *testing.T) {
	h, _, _ := testServer(t)
	w := do(t, h, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "heliotherm_hub_queue_depth") {
		t.Errorf("metrics = %d %q", w.Code, w.Body.String())
	}
}

func TestRecovery(t *testing.T) {
	srv, err := New(Deps{Logger: zerolog.Nop(), Hub: &fakeScheduler{}, Entities: entity.NewRegistry(zerolog.Nop())})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := do(t, h, http.MethodGet, "/", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestServer_StartClose(t *testing.T) {
	srv, err := New(Deps{
		Config:   config.APIConfig{Listen: "127.0.0.1:0"},
		Logger:   zerolog.Nop(),
		Hub:      &fakeScheduler{},
		Entities: entity.NewRegistry(zerolog.Nop()),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Close()

	resp, err := http.Get("http://" + srv.Addr().String() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
