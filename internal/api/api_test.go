package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClient_ErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"session not found"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.Get(context.Background(), "/api/sessions/nope", nil)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "session not found") {
		t.Errorf("error = %q, want the server's error message surfaced", err)
	}
}

func TestClient_PostSetsContentType(t *testing.T) {
	var contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	if err := client.Post(context.Background(), "/api/sessions", map[string]any{"k": "v"}, nil); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if contentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", contentType)
	}
}

func TestOutputTo_Formats(t *testing.T) {
	data := map[string]any{"state": "running"}

	var jsonBuf strings.Builder
	if err := OutputTo(&jsonBuf, OutputFormatJSON, data); err != nil {
		t.Fatalf("OutputTo(json) error = %v", err)
	}
	if !strings.Contains(jsonBuf.String(), `"state": "running"`) {
		t.Errorf("json output = %q", jsonBuf.String())
	}

	var yamlBuf strings.Builder
	if err := OutputTo(&yamlBuf, OutputFormatYAML, data); err != nil {
		t.Fatalf("OutputTo(yaml) error = %v", err)
	}
	if !strings.Contains(yamlBuf.String(), "state: running") {
		t.Errorf("yaml output = %q", yamlBuf.String())
	}

	if err := OutputTo(&jsonBuf, OutputFormat("toml"), data); err == nil {
		t.Error("expected error for unknown format")
	}
}
