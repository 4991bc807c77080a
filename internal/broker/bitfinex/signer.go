package bitfinex

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strconv"

	"alerttrader/internal/domain"
)

// Authentication header names.
const (
	HeaderAPIKey    = "X-BFX-APIKEY"
	HeaderPayload   = "X-BFX-PAYLOAD"
	HeaderSignature = "X-BFX-SIGNATURE"
)

// Signer authenticates v1 REST calls: the JSON payload is base64-encoded and
// signed with HMAC-SHA384.
type Signer struct {
	key    []byte
	secret []byte
}

// NewSigner fails with an auth error when key or secret is empty.
func NewSigner(key, secret string) (*Signer, error) {
	if key == "" || secret == "" {
		return nil, domain.Authf("missing key or secret")
	}
	return &Signer{key: []byte(key), secret: []byte(secret)}, nil
}

// Sign returns the headers and JSON body for a call to path (e.g.
// "/v1/balances"). params are merged into the payload next to the request
// path and nonce.
func (s *Signer) Sign(path string, nonce int64, params map[string]any) (map[string]string, []byte, error) {
	payload := make(map[string]any, len(params)+2)
	for k, v := range params {
		payload[k] = v
	}
	payload["request"] = path
	payload["nonce"] = strconv.FormatInt(nonce, 10)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(body)

	return map[string]string{
		HeaderAPIKey:    string(s.key),
		HeaderPayload:   encoded,
		HeaderSignature: s.sign(encoded),
	}, body, nil
}

func (s *Signer) sign(encoded string) string {
	mac := hmac.New(sha512.New384, s.secret)
	mac.Write([]byte(encoded))
	return hex.EncodeToString(mac.Sum(nil))
}
