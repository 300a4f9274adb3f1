package store

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_HealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantErr    bool
	}{
		{"healthy", http.StatusOK, false},
		{"unhealthy_500", http.StatusInternalServerError, true},
		{"unhealthy_503", http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/rest/v1/" {
					t.Errorf("unexpected path: %s", r.URL.Path)
				}
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			client := NewClient(server.URL, "test-key")
			err := client.HealthCheck(context.Background())

			if (err != nil) != tt.wantErr {
				t.Errorf("HealthCheck() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClient_Rows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/property_images" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get(EntityColumn); got != "eq.prop-1" {
			t.Errorf("entity filter = %q, want %q", got, "eq.prop-1")
		}
		if got := r.URL.Query().Get("order"); got != "position.asc" {
			t.Errorf("order = %q, want position.asc", got)
		}
		if got := r.Header.Get("apikey"); got != "test-key" {
			t.Errorf("apikey header = %q", got)
		}
		_ = json.NewEncoder(w).Encode([]Row{
			{"id": "img-1", "position": float64(0)},
			{"id": "img-2", "position": float64(1)},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	rows, err := client.Rows(context.Background(), TablePropertyImages, "prop-1")
	if err != nil {
		t.Fatalf("Rows() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if rows[0].ID() != "img-1" {
		t.Errorf("rows[0].ID() = %q, want img-1", rows[0].ID())
	}
}

func TestClient_Rows_InvalidEntityID(t *testing.T) {
	client := NewClient("http://localhost:0", "")
	if _, err := client.Rows(context.Background(), TableOffers, "bad id; drop"); err == nil {
		t.Error("expected error for unsafe entity id")
	}
}

func TestClient_UpdateRow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "PATCH" {
			t.Errorf("method = %s, want PATCH", r.Method)
		}
		if got := r.URL.Query().Get("id"); got != "eq.img-1" {
			t.Errorf("id filter = %q, want eq.img-1", got)
		}
		if got := r.Header.Get("Prefer"); got != "return=representation" {
			t.Errorf("Prefer header = %q", got)
		}
		var patch map[string]any
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			t.Fatalf("decode patch: %v", err)
		}
		if patch["hidden"] != true {
			t.Errorf("patch hidden = %v, want true", patch["hidden"])
		}
		_ = json.NewEncoder(w).Encode([]Row{{"id": "img-1", "hidden": true}})
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	row, err := client.UpdateRow(context.Background(), TablePropertyImages, "img-1", map[string]any{"hidden": true})
	if err != nil {
		t.Fatalf("UpdateRow() error = %v", err)
	}
	if !row.Bool("hidden") {
		t.Error("updated row should have hidden=true")
	}
}

func TestClient_UpdateRow_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]Row{})
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	_, err := client.UpdateRow(context.Background(), TableOffers, "missing", map[string]any{"x": 1})
	if !errors.Is(err, ErrRowNotFound) {
		t.Errorf("error = %v, want ErrRowNotFound", err)
	}
}

func TestClient_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"permission denied"}`, http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	if _, err := client.Rows(context.Background(), TableReviews, "prop-1"); err == nil {
		t.Error("expected error for 403 response")
	}
}
