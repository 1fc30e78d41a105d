package cli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCheckoutDecodesTask(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/run/4/checkout" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "test-key" {
			t.Fatalf("Authorization=%q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":9,"name":"test_boot","status":"scheduled","settings":{"device":"droid-7"},"run_id":4}`))
	}))
	defer server.Close()

	client := NewClient(context.Background(), server.URL, Credentials{InternalKey: "test-key"})
	task, err := client.Checkout(context.Background(), 4)
	if err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}
	if task == nil || task.ID != 9 || task.RunID != 4 {
		t.Fatalf("task = %+v", task)
	}
	if string(task.Settings) != `{"device":"droid-7"}` {
		t.Fatalf("task.Settings=%s", task.Settings)
	}
}

func TestCheckoutExhaustedReturnsNil(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(context.Background(), server.URL, Credentials{InternalKey: "k"})
	task, err := client.Checkout(context.Background(), 1)
	if err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}
	if task != nil {
		t.Fatalf("task = %+v, want nil", task)
	}
}

func TestClientSurfacesStoreError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not_found","message":"The run is not found."}`))
	}))
	defer server.Close()

	client := NewClient(context.Background(), server.URL, Credentials{InternalKey: "k"})
	_, err := client.GetRun(context.Background(), 12)
	if err == nil {
		t.Fatalf("GetRun() error = nil, want store error")
	}
	if !strings.Contains(err.Error(), "not_found") || !strings.Contains(err.Error(), "The run is not found.") {
		t.Fatalf("error = %v", err)
	}
}
