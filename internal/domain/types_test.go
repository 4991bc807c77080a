package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		in      string
		want    Action
		wantErr bool
	}{
		{"buy", ActionBuy, false},
		{"SELL", ActionSell, false},
		{" EnterLong ", ActionEnterLong, false},
		{"exitlong", ActionExitLong, false},
		{"short", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseAction(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAction(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAction(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if tt.wantErr && KindOf(err) != KindValidation {
			t.Errorf("ParseAction(%q) kind = %q, want %q", tt.in, KindOf(err), KindValidation)
		}
	}
}

func TestBalanceClampsAvailable(t *testing.T) {
	b := NewBalance("usd", decimal.NewFromInt(10), decimal.NewFromInt(12))
	if !b.Available.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Available = %s, want 10", b.Available)
	}

	bals := Balances{}
	bals.Add("btc", decimal.RequireFromString("0.25"), decimal.RequireFromString("0.25"))
	bals.Add("btc", decimal.RequireFromString("0.25"), decimal.RequireFromString("0.20"))
	if got := bals.Available("btc"); !got.Equal(decimal.RequireFromString("0.45")) {
		t.Errorf("Available(btc) = %s, want 0.45", got)
	}
	if got := bals.Available("eth"); !got.IsZero() {
		t.Errorf("Available(eth) = %s, want 0", got)
	}
}

func TestNewTickerMid(t *testing.T) {
	tk := NewTicker("XBTUSD", decimal.NewFromInt(9900), decimal.NewFromInt(10100))
	if !tk.Mid.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("Mid = %s, want 10000", tk.Mid)
	}
}

func TestSessionValid(t *testing.T) {
	var s *Session
	if s.Valid() {
		t.Error("nil session reported valid")
	}
	if (&Session{}).Valid() {
		t.Error("empty session reported valid")
	}
	s = &Session{SessionKey: "k", Accounts: []Account{{AccountID: "a1"}}}
	if !s.Valid() {
		t.Error("session with key reported invalid")
	}
	if acct, ok := s.PrimaryAccount(); !ok || acct.AccountID != "a1" {
		t.Errorf("PrimaryAccount() = %+v, %v", acct, ok)
	}
}

func TestErrorChain(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("fetch balances: %w", NetworkError("request failed", cause))

	if KindOf(err) != KindNetwork {
		t.Errorf("KindOf = %q, want %q", KindOf(err), KindNetwork)
	}
	if !errors.Is(err, ErrNetwork) {
		t.Error("errors.Is(err, ErrNetwork) = false")
	}
	if errors.Is(err, ErrAuth) {
		t.Error("errors.Is(err, ErrAuth) = true")
	}
	if !errors.Is(err, cause) {
		t.Error("original cause not reachable")
	}
	if want := "fetch balances: request failed: connection reset"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("unclassified error reported a kind")
	}
}
