// Package backend is the REST client of the cart and sales backend. Every
// endpoint has one typed call; response shapes are normalized here and
// nowhere else.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/comprepues/vault/api/middleware"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"
)

const maxBodySize = 4 << 20

type BreakerConfig struct {
	Failures    uint32
	OpenTimeout time.Duration
	Interval    time.Duration
	HalfOpen    uint32
}

type Config struct {
	BaseURL string
	Timeout time.Duration
	Breaker BreakerConfig
}

var (
	// errUpstream marks a 5xx answer as a failure for the breaker.
	errUpstream = errors.New("upstream failure")
	errEmpty    = errors.New("empty response")
)

type reply struct {
	status int
	body   []byte
}

type Client struct {
	base    *url.URL
	hc      *http.Client
	breaker *gobreaker.CircuitBreaker[reply]
	log     logrus.FieldLogger
}

// New builds a client for the backend rooted at cfg.BaseURL. hc may be nil.
func New(cfg Config, hc *http.Client, log logrus.FieldLogger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing backend url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("backend url %q must be absolute", cfg.BaseURL)
	}

	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	failures := cfg.Breaker.Failures
	if failures == 0 {
		failures = 5
	}

	st := gobreaker.Settings{
		Name:        "cart-backend",
		MaxRequests: cfg.Breaker.HalfOpen,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.OpenTimeout,
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	}

	return &Client{
		base:    base,
		hc:      hc,
		breaker: gobreaker.NewCircuitBreaker[reply](st),
		log:     log,
	}, nil
}

// WithToken returns a client that authenticates every call with the buyer
// bearer token. The breaker is shared with the receiver.
func (c *Client) WithToken(token string) *Client {
	if token == "" {
		return c
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.hc)
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
	hc.Timeout = c.hc.Timeout

	cp := *c
	cp.hc = hc
	return &cp
}

func (c *Client) endpoint(query url.Values, segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u := c.base.JoinPath(escaped...)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do sends the request and returns the normalized payload of a 2xx answer.
func (c *Client) do(ctx context.Context, op, method, target string, in any) (json.RawMessage, error) {
	return c.send(ctx, op, method, target, in, nil)
}

func (c *Client) send(ctx context.Context, op, method, target string, in any, hdr http.Header) (json.RawMessage, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("%s: encoding request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%s: building request: %w", op, err)
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := middleware.ContextRequestID(ctx); id != "" {
		req.Header.Set(middleware.RequestIDHeader, id)
	}

	start := time.Now()
	r, err := c.breaker.Execute(func() (reply, error) {
		resp, err := c.hc.Do(req)
		if err != nil {
			return reply{}, err
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return reply{}, err
		}

		r := reply{status: resp.StatusCode, body: b}
		if resp.StatusCode >= http.StatusInternalServerError {
			return r, errUpstream
		}
		return r, nil
	})

	log := c.log.WithFields(logrus.Fields{
		"req_id":   middleware.ContextRequestID(ctx),
		"op":       op,
		"method":   method,
		"status":   r.status,
		"duration": time.Since(start),
	})

	switch {
	case err == nil:
	case errors.Is(err, errUpstream):
		log.Warn("backend failure")
		return nil, &Error{Kind: Upstream, Op: op, Status: r.status, Message: message(r.body)}
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		log.Warn("backend call refused by breaker")
		return nil, &Error{Kind: Unavailable, Op: op, Err: err}
	default:
		log.WithError(err).Warn("backend unreachable")
		return nil, &Error{Kind: Transport, Op: op, Err: err}
	}

	log.Debug("backend call")

	if r.status >= http.StatusBadRequest {
		kind := Rejected
		if r.status == http.StatusNotFound {
			kind = NotFound
		}
		return nil, &Error{Kind: kind, Op: op, Status: r.status, Message: message(r.body)}
	}

	return unwrap(op, r.body)
}

func decode(op string, raw json.RawMessage, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Kind: Upstream, Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}
