package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/splitgate/splitgate/internal/config"
	"github.com/splitgate/splitgate/internal/exposure"
	"github.com/splitgate/splitgate/internal/registry"
	"github.com/splitgate/splitgate/internal/store"
)

// staticSource serves a fixed payload.
type staticSource struct {
	payload string
}

func (s *staticSource) Fetch(_ context.Context) ([]byte, error) {
	return []byte(s.payload), nil
}

const testPayload = `{
	"experiments": {
		"exp1": {
			"status": "active",
			"variants": [{"id": "control", "weight": 50}, {"id": "b", "weight": 50}]
		}
	}
}`

func testServer(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()
	cache := registry.NewCache(&staticSource{payload: testPayload}, time.Minute, nil)
	mem := store.NewMemoryStore()
	fanout := exposure.NewFanout(nil, exposure.NewStoreSink(mem))
	return NewServer(config.ServerConfig{Port: 0}, cache, mem, fanout, nil), mem
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleListExperiments(t *testing.T) {
	s, _ := testServer(t)
	rec := doRequest(t, s, "GET", "/api/experiments", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}

	var resp struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 {
		t.Errorf("expected 1 experiment, got %d", resp.Total)
	}
}

func TestHandleGetExperiment(t *testing.T) {
	s, _ := testServer(t)

	rec := doRequest(t, s, "GET", "/api/experiments/exp1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}

	rec = doRequest(t, s, "GET", "/api/experiments/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleRefresh(t *testing.T) {
	s, _ := testServer(t)
	rec := doRequest(t, s, "POST", "/api/experiments/refresh", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["status"] != "refreshed" {
		t.Errorf("unexpected response %v", resp)
	}
}

func TestHandleExposureIngestion(t *testing.T) {
	s, mem := testServer(t)

	body := `{"experiment_id": "exp1", "variant_id": "control", "user_id": "u1", "path": "/home"}`
	rec := doRequest(t, s, "POST", "/api/exposures", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	counts, err := mem.CountEvents("exp1", store.EventExposure)
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if counts["control"] != 1 {
		t.Errorf("expected stored exposure, got %v", counts)
	}
}

func TestHandleExposureRejectsBadBody(t *testing.T) {
	s, _ := testServer(t)

	rec := doRequest(t, s, "POST", "/api/exposures", `{"experiment_id": ""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d", rec.Code)
	}

	rec = doRequest(t, s, "POST", "/api/exposures", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad JSON, got %d", rec.Code)
	}
}

func TestHandleConversionIngestion(t *testing.T) {
	s, mem := testServer(t)

	body := `{"experiment_id": "exp1", "variant_id": "b", "user_id": "u1", "value": 19.99}`
	rec := doRequest(t, s, "POST", "/api/conversions", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d", rec.Code)
	}

	events, err := mem.ListEvents("exp1", store.EventConversion, 10)
	if err != nil || len(events) != 1 {
		t.Fatalf("expected 1 conversion, got %d err %v", len(events), err)
	}
	if events[0].Value != 19.99 {
		t.Errorf("conversion value %v", events[0].Value)
	}
}

func TestHandleExperimentResults(t *testing.T) {
	s, mem := testServer(t)
	now := time.Now().UTC()
	_ = mem.InsertEvent(&store.Event{ID: "1", Kind: store.EventExposure, ExperimentID: "exp1", VariantID: "control", Timestamp: now})
	_ = mem.InsertEvent(&store.Event{ID: "2", Kind: store.EventConversion, ExperimentID: "exp1", VariantID: "control", Timestamp: now})

	rec := doRequest(t, s, "GET", "/api/experiments/exp1/results", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}

	var resp struct {
		Exposures   map[string]int64 `json:"exposures"`
		Conversions map[string]int64 `json:"conversions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Exposures["control"] != 1 || resp.Conversions["control"] != 1 {
		t.Errorf("unexpected results %+v", resp)
	}
}

func TestHandleSampleSize(t *testing.T) {
	s, _ := testServer(t)

	rec := doRequest(t, s, "GET", "/api/samplesize?baseline=0.1&effect=0.2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		PerVariant int `json:"per_variant"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PerVariant <= 0 {
		t.Errorf("expected positive sample size, got %d", resp.PerVariant)
	}

	rec = doRequest(t, s, "GET", "/api/samplesize?baseline=2&effect=0.2", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid baseline, got %d", rec.Code)
	}
}

func TestHandleStats(t *testing.T) {
	s, mem := testServer(t)
	_ = mem.Set("u1", "exp1", "control", time.Hour)

	rec := doRequest(t, s, "GET", "/api/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["assignments"].(float64) != 1 {
		t.Errorf("unexpected stats %v", resp)
	}
}

func TestHandleListAssignments(t *testing.T) {
	s, mem := testServer(t)
	_ = mem.Set("u1", "exp1", "control", time.Hour)

	rec := doRequest(t, s, "GET", "/api/assignments/u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp struct {
		Assignments []struct {
			ExperimentID string `json:"experiment_id"`
			VariantID    string `json:"variant_id"`
		} `json:"assignments"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Assignments) != 1 || resp.Assignments[0].VariantID != "control" {
		t.Errorf("unexpected assignments %+v", resp.Assignments)
	}
}

func TestHandleHealth(t *testing.T) {
	s, _ := testServer(t)
	rec := doRequest(t, s, "GET", "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}
