package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"alerttrader/internal/broker"
	"alerttrader/internal/domain"
	"alerttrader/internal/engine"
	"alerttrader/internal/store"
)

type fixture struct {
	srv   *httptest.Server
	sim   *broker.SimulatorBroker
	store *store.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sim := broker.NewSimulatorBroker()
	sim.Seed("USD", decimal.NewFromInt(1000))
	sim.SetQuote(domain.SymbolPair{Base: "BTC", Quote: "USD"}, decimal.NewFromInt(90), decimal.NewFromInt(110))

	mem := store.NewMemoryStore()
	eng := engine.NewEngine(engine.NewRegistry(sim), engine.Options{
		Credentials: mem,
		OrderLog:    mem,
		Allocation:  engine.NewAllocationPolicy(nil, 50),
	})
	api := NewServer(eng, mem, nil, "test", []string{"paper"})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, sim: sim, store: mem}
}

func (f *fixture) post(t *testing.T, path string, body any) (*http.Response, []byte) {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp, out
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp, out
}

func (f *fixture) createService(t *testing.T, id string) {
	t.Helper()
	resp, body := f.post(t, "/api/v1/services", ServiceRequest{
		ID: id, UserID: "u1", BrokerType: "paper", APIKey: "key-" + id, APISecret: "secret",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create service status = %d, body %s", resp.StatusCode, body)
	}
}

func TestVersion(t *testing.T) {
	f := newFixture(t)
	resp, body := f.get(t, "/api/v1/version")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var v VersionResponse
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Version != "test" || len(v.Brokers) != 1 || v.Brokers[0] != "paper" {
		t.Errorf("version = %+v", v)
	}
}

func TestCreateServiceHidesSecrets(t *testing.T) {
	f := newFixture(t)
	resp, body := f.post(t, "/api/v1/services", ServiceRequest{
		UserID: "u1", BrokerType: "paper", APIKey: "k", APISecret: "very-secret",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if bytes.Contains(body, []byte("very-secret")) {
		t.Errorf("response leaks secret: %s", body)
	}
	var cred domain.ServiceCredential
	if err := json.Unmarshal(body, &cred); err != nil || cred.ID == "" {
		t.Errorf("created credential = %+v, %v", cred, err)
	}

	resp, _ = f.post(t, "/api/v1/services", ServiceRequest{UserID: "u1", BrokerType: "paper"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing key status = %d, want 400", resp.StatusCode)
	}
}

func TestIntentSingleService(t *testing.T) {
	f := newFixture(t)
	f.createService(t, "svc")

	resp, body := f.post(t, "/api/v1/intents", IntentRequest{
		UserID: "u1", ServiceID: "svc", Action: "BUY", Base: "btc", Quote: "usd",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	var out IntentResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Results) != 1 || !out.Results[0].Success {
		t.Fatalf("results = %+v", out.Results)
	}
	// 50% of 1000 USD at mid 100.
	if q := out.Results[0].Order.Quantity; q == nil || !q.Equal(decimal.NewFromInt(5)) {
		t.Errorf("quantity = %v, want 5", q)
	}
	if len(f.sim.Orders()) != 1 {
		t.Errorf("simulator orders = %d, want 1", len(f.sim.Orders()))
	}

	resp, body = f.get(t, "/api/v1/attempts/u1")
	var hist AttemptsResponse
	if err := json.Unmarshal(body, &hist); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("attempts = %s, %v", body, err)
	}
	if len(hist.Attempts) != 1 || hist.Attempts[0].Result.ServiceID != "svc" {
		t.Errorf("attempts = %+v", hist.Attempts)
	}
}

func TestIntentErrors(t *testing.T) {
	f := newFixture(t)
	f.createService(t, "svc")

	tests := []struct {
		name string
		req  IntentRequest
		want int
		kind string
	}{
		{"invalid action", IntentRequest{UserID: "u1", ServiceID: "svc", Action: "short", Base: "btc", Quote: "usd"}, http.StatusBadRequest, "validation"},
		{"unknown service", IntentRequest{UserID: "u1", ServiceID: "nope", Action: "buy", Base: "btc", Quote: "usd"}, http.StatusNotFound, "not_found"},
		{"nothing to sell", IntentRequest{UserID: "u1", ServiceID: "svc", Action: "sell", Base: "btc", Quote: "usd"}, http.StatusNotFound, "not_found"},
		{"no target", IntentRequest{UserID: "u1", Action: "buy", Base: "btc"}, http.StatusBadRequest, "validation"},
		{"bad market", IntentRequest{UserID: "u1", Market: "forex", Action: "buy", Base: "btc"}, http.StatusBadRequest, "validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.post(t, "/api/v1/intents", tt.req)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, tt.want, body)
			}
			var e ErrorResponse
			if err := json.Unmarshal(body, &e); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if e.Kind != tt.kind {
				t.Errorf("kind = %q, want %q", e.Kind, tt.kind)
			}
		})
	}
	if len(f.sim.Orders()) != 0 {
		t.Errorf("simulator orders = %d, want 0", len(f.sim.Orders()))
	}
}

func TestIntentMarketFanOut(t *testing.T) {
	f := newFixture(t)
	f.createService(t, "a")
	f.createService(t, "b")

	resp, body := f.post(t, "/api/v1/intents", IntentRequest{
		UserID: "u1", Market: "crypto", Action: "enterlong", Base: "btc", Quote: "usd", AllocationPercent: 10,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	var out IntentResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(out.Results))
	}
	for _, r := range out.Results {
		if !r.Success || r.Order.Quantity == nil || !r.Order.Quantity.Equal(decimal.NewFromInt(1)) {
			t.Errorf("result %s = %+v", r.ServiceID, r)
		}
	}

	// No services registered for equities: empty list, not an error.
	resp, body = f.post(t, "/api/v1/intents", IntentRequest{UserID: "u1", Market: "equities", Action: "buy", Base: "aapl"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("equities status = %d, body %s", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &out); err != nil || len(out.Results) != 0 {
		t.Errorf("equities results = %s", body)
	}
}

func TestSessionAndAccountUnsupported(t *testing.T) {
	f := newFixture(t)
	f.createService(t, "svc")

	resp, _ := f.post(t, "/api/v1/sessions/u1/svc", struct{}{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("session status = %d, want 400", resp.StatusCode)
	}
	resp, _ = f.get(t, "/api/v1/accounts/u1/svc")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("account status = %d, want 400", resp.StatusCode)
	}
	resp, _ = f.get(t, "/api/v1/attempts/u1?limit=zero")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("attempts bad limit status = %d, want 400", resp.StatusCode)
	}
}

func TestStatusFor(t *testing.T) {
	tests := map[domain.ErrorKind]int{
		domain.KindValidation: http.StatusBadRequest,
		domain.KindAuth:       http.StatusUnauthorized,
		domain.KindNotFound:   http.StatusNotFound,
		domain.KindNetwork:    http.StatusGatewayTimeout,
		domain.KindBroker:     http.StatusBadGateway,
		"":                    http.StatusInternalServerError,
	}
	for kind, want := range tests {
		if got := StatusFor(kind); got != want {
			t.Errorf("StatusFor(%q) = %d, want %d", kind, got, want)
		}
	}
}

func TestArchivedAttempts(t *testing.T) {
	ctx := context.Background()
	archive := store.NewParquetArchive(t.TempDir())
	day := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	for i, a := range []domain.OrderAttempt{
		{ID: "a1", Seq: 1, UserID: "u1", StartedAt: day.Add(time.Hour)},
		{ID: "b1", Seq: 2, UserID: "u2", StartedAt: day.Add(2 * time.Hour)},
		{ID: "a2", Seq: 3, UserID: "u1", StartedAt: day.Add(3 * time.Hour)},
		{ID: "a3", Seq: 4, UserID: "u1", StartedAt: day.Add(4 * time.Hour)},
	} {
		a.FinishedAt = a.StartedAt
		if err := archive.Record(ctx, a); err != nil {
			t.Fatalf("Record(%d) error: %v", i, err)
		}
	}

	f := newFixture(t)
	srv := httptest.NewServer(NewServer(nil, f.store, nil, "test", nil).WithArchive(archive).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/attempts/u1?day=2024-06-15&limit=2")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var out AttemptsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, decode err %v", resp.StatusCode, err)
	}
	if out.Day != "2024-06-15" || len(out.Attempts) != 2 || out.Attempts[0].ID != "a3" || out.Attempts[1].ID != "a2" {
		t.Errorf("archived attempts = %+v, want a3, a2", out)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/attempts/u1?day=2024-06-16", http.StatusOK},
		{"/api/v1/attempts/u1?day=June", http.StatusBadRequest},
	}
	for _, tt := range tests {
		r, err := http.Get(srv.URL + tt.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tt.path, err)
		}
		r.Body.Close()
		if r.StatusCode != tt.want {
			t.Errorf("GET %s status = %d, want %d", tt.path, r.StatusCode, tt.want)
		}
	}

	// The fixture server has no archive.
	r, _ := f.get(t, "/api/v1/attempts/u1?day=2024-06-15")
	if r.StatusCode != http.StatusNotFound {
		t.Errorf("no archive status = %d, want 404", r.StatusCode)
	}
}
