// Package httpapi provides the JSON REST API of the alerttrader server:
// intent submission, service registration, session creation, account
// lookup, and the attempt history.
package httpapi

import (
	"net/http"
	"strings"

	"alerttrader/internal/domain"
)

// IntentRequest asks for an action on one service, or on every service the
// user registered for a market when ServiceID is empty.
type IntentRequest struct {
	UserID            string  `json:"user_id"`
	ServiceID         string  `json:"service_id,omitempty"`
	Market            string  `json:"market,omitempty"`
	Action            string  `json:"action"`
	Base              string  `json:"base"`
	Quote             string  `json:"quote,omitempty"`
	AllocationPercent float64 `json:"allocation_percent,omitempty"`
}

// Intent validates the request and builds the domain intent.
func (r IntentRequest) Intent() (domain.OrderIntent, error) {
	if r.UserID == "" {
		return domain.OrderIntent{}, domain.Validationf("invalid credentials")
	}
	if r.ServiceID == "" && r.Market == "" {
		return domain.OrderIntent{}, domain.Validationf("service_id or market required")
	}
	action, err := domain.ParseAction(r.Action)
	if err != nil {
		return domain.OrderIntent{}, err
	}
	return domain.OrderIntent{
		Action:            action,
		Pair:              domain.SymbolPair{Base: strings.TrimSpace(r.Base), Quote: strings.TrimSpace(r.Quote)},
		AllocationPercent: r.AllocationPercent,
	}, nil
}

// IntentResponse carries one result per processed service.
type IntentResponse struct {
	Results []domain.OrderResult `json:"results"`
}

// ServiceRequest registers a broker credential.
type ServiceRequest struct {
	ID                string  `json:"id,omitempty"`
	UserID            string  `json:"user_id"`
	BrokerType        string  `json:"broker_type"`
	APIKey            string  `json:"api_key,omitempty"`
	APISecret         string  `json:"api_secret,omitempty"`
	Username          string  `json:"username,omitempty"`
	Password          string  `json:"password,omitempty"`
	BrokerUserID      string  `json:"broker_user_id,omitempty"`
	WalletID          string  `json:"wallet_id,omitempty"`
	AllocationPercent float64 `json:"allocation_percent,omitempty"`
}

func (r ServiceRequest) credential() domain.ServiceCredential {
	return domain.ServiceCredential{
		ID:                r.ID,
		UserID:            r.UserID,
		BrokerType:        domain.BrokerType(strings.ToLower(strings.TrimSpace(r.BrokerType))),
		APIKey:            r.APIKey,
		APISecret:         r.APISecret,
		Username:          r.Username,
		Password:          r.Password,
		BrokerUserID:      r.BrokerUserID,
		WalletID:          r.WalletID,
		AllocationPercent: r.AllocationPercent,
	}
}

// AttemptsResponse lists recorded attempts, newest first. Day is set when
// the attempts were read from the daily archive.
type AttemptsResponse struct {
	UserID   string                `json:"user_id"`
	Day      string                `json:"day,omitempty"`
	Attempts []domain.OrderAttempt `json:"attempts"`
}

// VersionResponse identifies the server build.
type VersionResponse struct {
	Version string   `json:"version"`
	Brokers []string `json:"brokers"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Kind    string         `json:"kind,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Result  any            `json:"result,omitempty"`
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuth:
		return http.StatusUnauthorized
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindNetwork:
		return http.StatusGatewayTimeout
	case domain.KindBroker:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
