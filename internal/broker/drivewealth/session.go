package drivewealth

import (
	"net/http"

	"alerttrader/internal/domain"
)

// HeaderSessionKey carries the login token on every authenticated call.
const HeaderSessionKey = "x-mysolomeo-session-key"

// Login request constants expected by the venue.
const (
	appTypeID   = 2000
	appVersion  = "0.1"
	languageID  = "en_US"
	accountType = 2
)

type loginRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	AccountType int    `json:"accountType"`
	AppTypeID   int    `json:"appTypeID"`
	AppVersion  string `json:"appVersion"`
	LanguageID  string `json:"languageID"`
	OSType      string `json:"osType"`
	OSVersion   string `json:"osVersion"`
	ScrRes      string `json:"scrRes"`
	IPAddress   string `json:"ipAddress"`
}

type loginResponse struct {
	SessionKey string           `json:"sessionKey"`
	UserID     string           `json:"userID"`
	Accounts   []domain.Account `json:"accounts"`
}

func (r loginResponse) session() *domain.Session {
	return &domain.Session{SessionKey: r.SessionKey, UserID: r.UserID, Accounts: r.Accounts}
}

// requireSession returns the session and its primary account, failing with
// an auth error when either is absent.
func requireSession(cred domain.ServiceCredential) (*domain.Session, domain.Account, error) {
	if !cred.Session.Valid() {
		return nil, domain.Account{}, domain.Authf("missing session")
	}
	acct, ok := cred.Session.PrimaryAccount()
	if !ok {
		return nil, domain.Account{}, domain.Authf("missing session")
	}
	return cred.Session, acct, nil
}

// authorize attaches the session token to req.
func authorize(req *http.Request, s *domain.Session) {
	req.Header.Set(HeaderSessionKey, s.SessionKey)
}
