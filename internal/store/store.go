// Package store persists service credentials and the audit trail of order
// attempts. SQLiteStore is the primary store; ParquetArchive keeps daily
// columnar copies of attempts; MemoryStore backs tests and paper runs.
package store

import (
	"strings"

	"github.com/google/uuid"

	"alerttrader/internal/domain"
	"alerttrader/internal/engine"
)

// Compile-time interface checks.
var (
	_ engine.CredentialStore = (*SQLiteStore)(nil)
	_ engine.OrderLog        = (*SQLiteStore)(nil)
	_ engine.CredentialStore = (*MemoryStore)(nil)
	_ engine.OrderLog        = (*MemoryStore)(nil)
	_ engine.OrderLog        = (*ParquetArchive)(nil)
)

// marketOf maps each broker type to the market it trades.
var marketOf = map[domain.BrokerType]domain.Market{
	domain.BrokerDriveWealth: domain.MarketEquities,
	domain.BrokerAlpaca:      domain.MarketEquities,
	domain.BrokerBitfinex:    domain.MarketCrypto,
	domain.BrokerItBit:       domain.MarketCrypto,
	domain.BrokerPaper:       domain.MarketCrypto,
}

// PrepareService validates a new credential and fills its ID and market.
// Session venues need a username and password; the others need an API key
// and secret.
func PrepareService(cred domain.ServiceCredential) (domain.ServiceCredential, error) {
	cred.UserID = strings.TrimSpace(cred.UserID)
	if cred.UserID == "" {
		return cred, domain.Validationf("missing user id")
	}
	market, ok := marketOf[cred.BrokerType]
	if !ok {
		return cred, domain.NewError(domain.KindValidation, "invalid service", map[string]any{"broker_type": string(cred.BrokerType)})
	}
	if cred.Market == "" {
		cred.Market = market
	}

	switch cred.BrokerType {
	case domain.BrokerDriveWealth:
		if cred.Username == "" || cred.Password == "" {
			return cred, domain.Validationf("missing username or password")
		}
	default:
		if cred.APIKey == "" || cred.APISecret == "" {
			return cred, domain.Validationf("missing key or secret")
		}
	}
	if cred.AllocationPercent < 0 || cred.AllocationPercent > 100 {
		return cred, domain.Validationf("invalid allocation percent %v", cred.AllocationPercent)
	}
	if cred.ID == "" {
		cred.ID = uuid.NewString()
	}
	return cred, nil
}

func requireIDs(userID, serviceID string) error {
	if userID == "" || serviceID == "" {
		return domain.Validationf("invalid credentials")
	}
	return nil
}
