package itbit

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"strconv"

	"alerttrader/internal/domain"
)

// Authentication header names.
const (
	HeaderAuthorization = "Authorization"
	HeaderTimestamp     = "X-Auth-Timestamp"
	HeaderNonce         = "X-Auth-Nonce"
)

// Signer authenticates REST calls. The message is the JSON array
// [method, url, body, nonce, timestamp]; its SHA-256 digest, prefixed by the
// nonce, is appended to the URL bytes and signed with HMAC-SHA512.
type Signer struct {
	key    string
	secret []byte
}

// NewSigner fails with an auth error when key or secret is empty.
func NewSigner(key, secret string) (*Signer, error) {
	if key == "" || secret == "" {
		return nil, domain.Authf("missing key or secret")
	}
	return &Signer{key: key, secret: []byte(secret)}, nil
}

// Sign returns the authentication headers for one request. body is the
// exact JSON sent, or "" for requests without one.
func (s *Signer) Sign(method, url, body string, nonce, timestamp int64) (map[string]string, error) {
	n := strconv.FormatInt(nonce, 10)
	ts := strconv.FormatInt(timestamp, 10)

	msg, err := marshal([]string{method, url, body, n, ts})
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(append([]byte(n), msg...))

	mac := hmac.New(sha512.New, s.secret)
	mac.Write([]byte(url))
	mac.Write(digest[:])
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return map[string]string{
		HeaderAuthorization: s.key + ":" + sig,
		HeaderTimestamp:     ts,
		HeaderNonce:         n,
	}, nil
}

// marshal encodes v without HTML escaping, matching what the venue hashes.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
