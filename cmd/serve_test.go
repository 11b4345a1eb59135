package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMux_Health(t *testing.T) {
	mux := buildMux(context.Background(), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestBuildMux_Freshness_Unavailable(t *testing.T) {
	mux := buildMux(context.Background(), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/freshness", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestBuildMux_WebhookQualify_Accepted(t *testing.T) {
	mux := buildMux(context.Background(), nil, nil)

	payload := map[string]any{
		"name":                   "wiring harness",
		"manufacturing_location": "MX",
		"components": []map[string]any{
			{"description": "wiring assembly", "origin_country": "MX", "value_percentage": 100},
		},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhook/qualify", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp["status"])
	assert.Equal(t, "wiring harness", resp["product"])

	// Allow the goroutine to hit the nil-engine guard.
	time.Sleep(10 * time.Millisecond)
}

func TestBuildMux_WebhookQualify_BadBody(t *testing.T) {
	mux := buildMux(context.Background(), nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhook/qualify", bytes.NewReader([]byte("not json")))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBuildMux_WebhookQualify_NoComponents(t *testing.T) {
	mux := buildMux(context.Background(), nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhook/qualify", bytes.NewReader([]byte(`{"name":"empty"}`)))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
