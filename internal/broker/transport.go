package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"alerttrader/internal/domain"
)

// DefaultTimeout bounds every outbound venue call.
const DefaultTimeout = 15 * time.Second

// maxBody caps how much of a response is read.
const maxBody = 4 << 20

// TransportOptions configures a Transport.
type TransportOptions struct {
	Timeout time.Duration

	// RatePerSecond limits outbound requests; zero disables limiting.
	RatePerSecond float64
	Burst         int

	// HTTPClient overrides the client used for requests.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Transport sends venue requests with a hard timeout, optional rate limiting,
// and error classification into domain error kinds. It is safe for
// concurrent use.
type Transport struct {
	name    string
	timeout time.Duration
	client  *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewTransport creates a Transport for the named venue.
func NewTransport(name string, opts TransportOptions) *Transport {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		name:    name,
		timeout: timeout,
		client:  client,
		limiter: limiter,
		log:     log.With("broker", name),
	}
}

// Do sends req and returns the body of a 2xx response. Transport failures
// and timeouts become network errors, 401/403 become auth errors, and any
// other non-2xx status becomes a broker error carrying the venue message.
func (t *Transport) Do(ctx context.Context, req *http.Request) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, domain.NetworkError("rate limit wait", err)
		}
	}

	start := time.Now()
	resp, err := t.client.Do(req.WithContext(ctx))
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, domain.NetworkError("timeout", err)
		}
		return nil, domain.NetworkError("request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, domain.NetworkError("timeout", err)
		}
		return nil, domain.NetworkError("reading response", err)
	}

	t.log.Debug("venue call",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"elapsed", time.Since(start),
	)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	msg := ResponseMessage(body)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	details := map[string]any{"status": resp.StatusCode, "path": req.URL.Path}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, domain.NewError(domain.KindAuth, msg, details)
	}
	return nil, domain.BrokerError(msg, details)
}

// DoJSON sends req and decodes a 2xx JSON body into out.
func (t *Transport) DoJSON(ctx context.Context, req *http.Request, out any) error {
	body, err := t.Do(ctx, req)
	if err != nil {
		return err
	}
	return DecodeJSON(body, out)
}

// DecodeJSON decodes a venue response, classifying malformed bodies as
// broker errors.
func DecodeJSON(body []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &domain.Error{Kind: domain.KindBroker, Msg: "malformed response", Err: err}
	}
	return nil
}

// ResponseMessage extracts a human-readable rejection message from a JSON
// error body, falling back to the trimmed body text.
func ResponseMessage(body []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err == nil {
		for _, key := range []string{"message", "error", "description", "code"} {
			if v, ok := obj[key]; ok && v != nil {
				if s := fmt.Sprint(v); s != "" {
					return s
				}
			}
		}
		return ""
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
