package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"alerttrader/internal/domain"
)

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "alerttrader.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type credentialStore interface {
	CreateService(ctx context.Context, cred domain.ServiceCredential) (domain.ServiceCredential, error)
	Get(ctx context.Context, userID, serviceID string) (domain.ServiceCredential, error)
	ListByMarket(ctx context.Context, userID string, market domain.Market) ([]domain.ServiceCredential, error)
	WriteSession(ctx context.Context, userID, serviceID string, s *domain.Session) error
	Record(ctx context.Context, a domain.OrderAttempt) error
	ListAttempts(ctx context.Context, userID string, limit int) ([]domain.OrderAttempt, error)
}

func stores(t *testing.T) map[string]credentialStore {
	return map[string]credentialStore{
		"sqlite": newSQLite(t),
		"memory": NewMemoryStore(),
	}
}

func TestPrepareService(t *testing.T) {
	tests := []struct {
		name string
		cred domain.ServiceCredential
		want domain.ErrorKind
	}{
		{"crypto ok", domain.ServiceCredential{UserID: "u", BrokerType: domain.BrokerBitfinex, APIKey: "k", APISecret: "s"}, ""},
		{"crypto missing secret", domain.ServiceCredential{UserID: "u", BrokerType: domain.BrokerItBit, APIKey: "k"}, domain.KindValidation},
		{"equities ok", domain.ServiceCredential{UserID: "u", BrokerType: domain.BrokerDriveWealth, Username: "a", Password: "b"}, ""},
		{"equities missing password", domain.ServiceCredential{UserID: "u", BrokerType: domain.BrokerDriveWealth, Username: "a"}, domain.KindValidation},
		{"unknown broker", domain.ServiceCredential{UserID: "u", BrokerType: "kraken", APIKey: "k", APISecret: "s"}, domain.KindValidation},
		{"missing user", domain.ServiceCredential{BrokerType: domain.BrokerBitfinex, APIKey: "k", APISecret: "s"}, domain.KindValidation},
		{"bad allocation", domain.ServiceCredential{UserID: "u", BrokerType: domain.BrokerBitfinex, APIKey: "k", APISecret: "s", AllocationPercent: 120}, domain.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PrepareService(tt.cred)
			if kind := domain.KindOf(err); kind != tt.want {
				t.Fatalf("PrepareService() kind = %q, want %q (err %v)", kind, tt.want, err)
			}
			if err == nil && (got.ID == "" || got.Market == "") {
				t.Errorf("PrepareService() = %+v, want ID and market filled", got)
			}
		})
	}

	got, _ := PrepareService(domain.ServiceCredential{UserID: "u", BrokerType: domain.BrokerDriveWealth, Username: "a", Password: "b"})
	if got.Market != domain.MarketEquities {
		t.Errorf("drivewealth market = %q, want %q", got.Market, domain.MarketEquities)
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			created, err := s.CreateService(ctx, domain.ServiceCredential{
				UserID:            "user-1",
				BrokerType:        domain.BrokerItBit,
				APIKey:            "key",
				APISecret:         "secret",
				BrokerUserID:      "itbit-user",
				WalletID:          "wallet-1",
				AllocationPercent: 25,
			})
			if err != nil {
				t.Fatalf("CreateService() error: %v", err)
			}

			got, err := s.Get(ctx, "user-1", created.ID)
			if err != nil {
				t.Fatalf("Get() error: %v", err)
			}
			if got.APISecret != "secret" || got.WalletID != "wallet-1" || got.AllocationPercent != 25 {
				t.Errorf("Get() = %+v", got)
			}
			if got.Market != domain.MarketCrypto {
				t.Errorf("Market = %q, want %q", got.Market, domain.MarketCrypto)
			}
			if got.Session != nil {
				t.Errorf("Session = %+v, want nil", got.Session)
			}
		})
	}
}

func TestGetErrors(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Get(ctx, "user-1", "missing"); !errors.Is(err, domain.ErrNotFound) {
				t.Errorf("Get(missing) error = %v, want not found", err)
			}
			if _, err := s.Get(ctx, "", "svc"); !errors.Is(err, domain.ErrValidation) {
				t.Errorf("Get(no user) error = %v, want validation", err)
			}
		})
	}
}

func TestListByMarket(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			creds := []domain.ServiceCredential{
				{ID: "a", UserID: "u", BrokerType: domain.BrokerBitfinex, APIKey: "k", APISecret: "s"},
				{ID: "b", UserID: "u", BrokerType: domain.BrokerDriveWealth, Username: "n", Password: "p"},
				{ID: "c", UserID: "u", BrokerType: domain.BrokerItBit, APIKey: "k", APISecret: "s"},
				{ID: "d", UserID: "other", BrokerType: domain.BrokerBitfinex, APIKey: "k", APISecret: "s"},
			}
			for _, c := range creds {
				if _, err := s.CreateService(ctx, c); err != nil {
					t.Fatalf("CreateService(%s) error: %v", c.ID, err)
				}
			}

			got, err := s.ListByMarket(ctx, "u", domain.MarketCrypto)
			if err != nil {
				t.Fatalf("ListByMarket() error: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("ListByMarket() len = %d, want 2", len(got))
			}
			ids := map[string]bool{got[0].ID: true, got[1].ID: true}
			if !ids["a"] || !ids["c"] {
				t.Errorf("ListByMarket() ids = %v, want a and c", ids)
			}

			none, err := s.ListByMarket(ctx, "nobody", domain.MarketCrypto)
			if err != nil || len(none) != 0 {
				t.Errorf("ListByMarket(nobody) = %v, %v", none, err)
			}
		})
	}
}

func TestWriteSession(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			created, err := s.CreateService(ctx, domain.ServiceCredential{
				UserID: "u", BrokerType: domain.BrokerDriveWealth, Username: "n", Password: "p",
			})
			if err != nil {
				t.Fatalf("CreateService() error: %v", err)
			}
			sess := &domain.Session{
				SessionKey: "token",
				UserID:     "dw-user",
				Accounts:   []domain.Account{{AccountID: "acc-1", AccountNo: "DW1", AccountType: 2}},
			}
			if err := s.WriteSession(ctx, "u", created.ID, sess); err != nil {
				t.Fatalf("WriteSession() error: %v", err)
			}

			got, err := s.Get(ctx, "u", created.ID)
			if err != nil {
				t.Fatalf("Get() error: %v", err)
			}
			if !got.Session.Valid() || got.Session.SessionKey != "token" {
				t.Fatalf("Session = %+v, want token", got.Session)
			}
			if acc, ok := got.Session.PrimaryAccount(); !ok || acc.AccountID != "acc-1" {
				t.Errorf("PrimaryAccount() = %+v, %v", acc, ok)
			}
		})
	}
}

func sampleAttempt(id string, seq uint64, started time.Time, success bool) domain.OrderAttempt {
	qty := decimal.RequireFromString("0.5")
	a := domain.OrderAttempt{
		ID:     id,
		Seq:    seq,
		UserID: "u",
		Intent: domain.OrderIntent{Action: domain.ActionBuy, Pair: domain.SymbolPair{Base: "btc", Quote: "usd"}},
		Result: domain.OrderResult{
			ServiceID:  "svc",
			BrokerType: domain.BrokerBitfinex,
			Success:    success,
			Order: &domain.Order{
				Pair:     domain.SymbolPair{Base: "btc", Quote: "usd"},
				Side:     domain.SideBuy,
				Type:     domain.OrderTypeMarket,
				Quantity: &qty,
			},
		},
		StartedAt:  started,
		FinishedAt: started.Add(200 * time.Millisecond),
	}
	if success {
		a.Result.BrokerOrderID = "order-" + id
	} else {
		a.Result.ErrorKind = domain.KindBroker
		a.Result.Error = "rejected"
	}
	return a
}

func TestRecordAndListAttempts(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 6, 15, 14, 0, 0, 0, time.UTC)
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for i, a := range []domain.OrderAttempt{
				sampleAttempt("a1", 1, base, true),
				sampleAttempt("a2", 2, base.Add(time.Minute), false),
				sampleAttempt("a1", 1, base, true), // duplicate
			} {
				if err := s.Record(ctx, a); err != nil {
					t.Fatalf("Record(%d) error: %v", i, err)
				}
			}

			got, err := s.ListAttempts(ctx, "u", 10)
			if err != nil {
				t.Fatalf("ListAttempts() error: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("ListAttempts() len = %d, want 2", len(got))
			}
			if got[0].ID != "a2" || got[1].ID != "a1" {
				t.Errorf("ListAttempts() order = %s, %s, want a2, a1", got[0].ID, got[1].ID)
			}
			if got[0].Result.ErrorKind != domain.KindBroker {
				t.Errorf("ErrorKind = %q, want broker", got[0].Result.ErrorKind)
			}
			if got[1].Result.Order == nil || got[1].Result.Order.Quantity.String() != "0.5" {
				t.Errorf("Order = %+v, want qty 0.5", got[1].Result.Order)
			}
			if got[1].Intent.Pair.Base != "btc" {
				t.Errorf("Intent.Pair = %+v", got[1].Intent.Pair)
			}

			limited, _ := s.ListAttempts(ctx, "u", 1)
			if len(limited) != 1 {
				t.Errorf("ListAttempts(limit 1) len = %d", len(limited))
			}
		})
	}
}

func TestParquetArchivePath(t *testing.T) {
	pa := NewParquetArchive("/data")
	ts := time.Date(2024, 6, 15, 23, 30, 0, 0, time.FixedZone("EST", -5*3600))

	want := filepath.Join("/data", "attempts", "2024-06-16.parquet")
	if got := pa.attemptPath(ts); got != want {
		t.Errorf("attemptPath() = %s, want %s", got, want)
	}
}

func TestParquetArchiveRecordRead(t *testing.T) {
	ctx := context.Background()
	pa := NewParquetArchive(t.TempDir())
	day := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

	later := sampleAttempt("a2", 2, day.Add(2*time.Hour), false)
	earlier := sampleAttempt("a1", 1, day.Add(time.Hour), true)
	for _, a := range []domain.OrderAttempt{later, earlier, earlier} {
		if err := pa.Record(ctx, a); err != nil {
			t.Fatalf("Record(%s) error: %v", a.ID, err)
		}
	}

	got, err := pa.ReadAttempts(ctx, day)
	if err != nil {
		t.Fatalf("ReadAttempts() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadAttempts() len = %d, want 2", len(got))
	}
	if got[0].ID != "a1" || got[1].ID != "a2" {
		t.Errorf("ReadAttempts() order = %s, %s, want a1, a2", got[0].ID, got[1].ID)
	}
	if got[0].Result.BrokerOrderID != "order-a1" || !got[0].Result.Success {
		t.Errorf("a1 result = %+v", got[0].Result)
	}
	if got[1].Result.Error != "rejected" {
		t.Errorf("a2 error = %q, want rejected", got[1].Result.Error)
	}
	if got[0].Result.Order == nil || got[0].Result.Order.Side != domain.SideBuy {
		t.Errorf("a1 order = %+v", got[0].Result.Order)
	}
	if !got[0].StartedAt.Equal(earlier.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", got[0].StartedAt, earlier.StartedAt)
	}

	empty, err := pa.ReadAttempts(ctx, day.AddDate(0, 0, 1))
	if err != nil || len(empty) != 0 {
		t.Errorf("ReadAttempts(next day) = %v, %v", empty, err)
	}
}

func TestParquetArchiveKeepsFirstRecord(t *testing.T) {
	ctx := context.Background()
	pa := NewParquetArchive(t.TempDir())
	started := time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)

	for _, a := range []domain.OrderAttempt{
		sampleAttempt("a1", 1, started, true),
		sampleAttempt("a1", 1, started, false),
	} {
		if err := pa.Record(ctx, a); err != nil {
			t.Fatalf("Record() error: %v", err)
		}
	}
	got, err := pa.ReadAttempts(ctx, started)
	if err != nil {
		t.Fatalf("ReadAttempts() error: %v", err)
	}
	if len(got) != 1 || !got[0].Result.Success || got[0].Result.BrokerOrderID != "order-a1" {
		t.Errorf("ReadAttempts() = %+v, want the first record only", got)
	}
}

func TestMergeAttemptRecords(t *testing.T) {
	existing := []AttemptRecord{
		{ID: "a", StartedAt: 3000, Error: "old"},
		{ID: "b", StartedAt: 1000},
	}
	incoming := []AttemptRecord{
		{ID: "a", StartedAt: 3000, Error: "new"},
		{ID: "c", StartedAt: 2000},
	}
	got := mergeAttemptRecords(existing, incoming)
	if len(got) != 3 {
		t.Fatalf("merge len = %d, want 3", len(got))
	}
	if got[0].ID != "b" || got[1].ID != "c" || got[2].ID != "a" {
		t.Errorf("merge order = %s %s %s, want b c a", got[0].ID, got[1].ID, got[2].ID)
	}
	if got[2].Error != "old" {
		t.Errorf("merge kept %q, want the stored record", got[2].Error)
	}
}
