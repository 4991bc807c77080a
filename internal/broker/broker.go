// Package broker defines the capability contract every venue adapter
// implements, along with the shared HTTP transport and nonce clock used by
// the signed REST adapters in its subpackages.
package broker

import (
	"context"

	"alerttrader/internal/domain"
	"alerttrader/internal/sizing"
)

// Client abstracts one venue's balance, price, and order operations. Each
// implementation owns its request signing and symbol normalization.
type Client interface {
	// Name returns the broker type served by this client.
	Name() domain.BrokerType

	// Rules returns the venue's sizing rules.
	Rules() sizing.Rules

	// NormalizePair maps a pair to the venue's canonical codes. It is
	// idempotent and fails with a validation error for unsupported pairs.
	NormalizePair(pair domain.SymbolPair) (domain.SymbolPair, error)

	// FetchBalances returns fresh balances keyed by normalized currency.
	FetchBalances(ctx context.Context, cred domain.ServiceCredential) (domain.Balances, error)

	// FetchTicker returns the current bid/ask for a normalized pair.
	FetchTicker(ctx context.Context, cred domain.ServiceCredential, pair domain.SymbolPair) (domain.Ticker, error)

	// SubmitOrder converts order to the venue payload and sends it.
	SubmitOrder(ctx context.Context, cred domain.ServiceCredential, order domain.Order) (domain.Receipt, error)
}

// SessionCreator is implemented by venues that authenticate with a login
// session instead of per-request signatures.
type SessionCreator interface {
	// CreateSession logs in with the credential's username and password.
	CreateSession(ctx context.Context, cred domain.ServiceCredential) (*domain.Session, error)
}

// AccountStateFetcher is implemented by venues that report positions
// alongside cash in one account summary.
type AccountStateFetcher interface {
	FetchAccountState(ctx context.Context, cred domain.ServiceCredential) (domain.AccountState, error)
}

// AccountFetcher is implemented by venues that expose the raw brokerage
// account record.
type AccountFetcher interface {
	FetchAccount(ctx context.Context, cred domain.ServiceCredential) (map[string]any, error)
}

// CredentialChecker is implemented by venues that can reject a credential
// without any I/O. The engine calls it before the first venue request.
type CredentialChecker interface {
	CheckCredential(cred domain.ServiceCredential) error
}

// RequireKeys fails with an auth error when either API key or secret is
// missing.
func RequireKeys(cred domain.ServiceCredential) error {
	if cred.APIKey == "" || cred.APISecret == "" {
		return domain.Authf("missing key or secret")
	}
	return nil
}
