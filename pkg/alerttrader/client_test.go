package alerttrader

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"alerttrader/internal/domain"
)

func TestNewClient(t *testing.T) {
	baseURL := "http://localhost:8080/"
	c := NewClient(baseURL)

	if c == nil {
		t.Fatal("expected non-nil client")
	}
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", c.baseURL)
	}
	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

func TestProcess(t *testing.T) {
	var got IntentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/intents" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		json.NewEncoder(w).Encode(IntentResponse{Results: []domain.OrderResult{
			{ServiceID: "svc", BrokerType: domain.BrokerBitfinex, Success: true, BrokerOrderID: "42"},
		}})
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL).Process(context.Background(), IntentRequest{
		UserID: "u1", ServiceID: "svc", Action: "buy", Base: "btc", Quote: "usd",
	})
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if got.UserID != "u1" || got.Action != "buy" {
		t.Errorf("sent = %+v", got)
	}
	if len(resp.Results) != 1 || resp.Results[0].BrokerOrderID != "42" {
		t.Errorf("Process() = %+v", resp)
	}
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"service x not found","kind":"not_found"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).CreateSession(context.Background(), "u1", "x")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("CreateSession() error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Kind != "not_found" || apiErr.Message != "service x not found" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestAttemptsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/attempts/u1" || r.URL.Query().Get("limit") != "5" {
			t.Errorf("request = %s", r.URL)
		}
		w.Write([]byte(`{"user_id":"u1","attempts":[]}`))
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL).Attempts(context.Background(), "u1", 5)
	if err != nil || resp.UserID != "u1" {
		t.Errorf("Attempts() = %+v, %v", resp, err)
	}
}

func TestPlainTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Version(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "boom" || apiErr.Kind != "" {
		t.Errorf("Version() error = %#v", err)
	}
}

func TestArchivedAttemptsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/api/v1/attempts/u1" || q.Get("day") != "2024-06-15" || q.Get("limit") != "3" {
			t.Errorf("request = %s", r.URL)
		}
		w.Write([]byte(`{"user_id":"u1","day":"2024-06-15","attempts":[]}`))
	}))
	defer srv.Close()

	day := time.Date(2024, 6, 15, 20, 0, 0, 0, time.UTC)
	resp, err := NewClient(srv.URL).ArchivedAttempts(context.Background(), "u1", day, 3)
	if err != nil || resp.Day != "2024-06-15" {
		t.Errorf("ArchivedAttempts() = %+v, %v", resp, err)
	}
}
