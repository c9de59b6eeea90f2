// Package adnetwork is the HTTP client that pushes control changes to the ad
// network. Every call is rate limited, retried on transient failures and
// guarded by a circuit breaker so a degraded network fails fast instead of
// stalling whole batches.
package adnetwork

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/ignite/spend-optimizer/internal/domain"
	"github.com/ignite/spend-optimizer/internal/pkg/httpretry"
	"github.com/ignite/spend-optimizer/internal/pkg/logger"
)

var (
	// ErrRejected is returned when the network refuses a mutation (4xx).
	ErrRejected = errors.New("mutation rejected by ad network")
	// ErrUnavailable is returned while the circuit breaker is open.
	ErrUnavailable = errors.New("ad network unavailable")
)

// Config holds the client settings.
type Config struct {
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	BreakerFailures   uint32        `yaml:"breaker_failures"`
	BreakerCooldown   time.Duration `yaml:"breaker_cooldown"`
	OAuth             OAuthConfig   `yaml:"oauth"`
}

// DefaultConfig returns conservative client settings.
func DefaultConfig() Config {
	return Config{
		Timeout:           30 * time.Second,
		MaxRetries:        3,
		RequestsPerSecond: 5,
		Burst:             10,
		BreakerFailures:   5,
		BreakerCooldown:   60 * time.Second,
	}
}

// Validate checks the client settings.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("adnetwork: base_url is required")
	}
	if c.RequestsPerSecond <= 0 || c.Burst < 1 {
		return errors.New("adnetwork: requests_per_second and burst must be positive")
	}
	if c.BreakerFailures == 0 {
		return errors.New("adnetwork: breaker_failures must be positive")
	}
	return c.OAuth.Validate()
}

// MutationRequest is the body sent for every control change.
type MutationRequest struct {
	SegmentID  string             `json:"segment_id"`
	CampaignID string             `json:"campaign_id"`
	Kind       domain.SegmentKind `json:"kind"`
	Action     domain.ActionType  `json:"action"`
	Value      *float64           `json:"value,omitempty"`
	State      string             `json:"state,omitempty"`
	Text       string             `json:"text,omitempty"`
	MatchType  string             `json:"match_type,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client implements execution.Mutator against the ad network's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	clientID   string
	httpClient httpretry.HTTPDoer
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	log        *logger.Logger
}

// NewClient creates a client. A nil doer uses an http.Client with the
// configured timeout, authenticated through OAuth when cfg.OAuth is set.
func NewClient(cfg Config, doer httpretry.HTTPDoer, opts ...httpretry.Option) *Client {
	apiKey := cfg.APIKey
	if doer == nil {
		base := &http.Client{Timeout: cfg.Timeout}
		doer = base
		if cfg.OAuth.Enabled() {
			doer = cfg.OAuth.httpClient(base)
			apiKey = ""
		}
	}
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     apiKey,
		clientID:   cfg.OAuth.ClientID,
		httpClient: httpretry.NewRetryClient(doer, cfg.MaxRetries, opts...),
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		log:        logger.Component("adnetwork"),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "adnetwork",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// Rejections are the caller's fault, not the network's.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// BuildRequest translates an action into the wire request.
func BuildRequest(seg domain.Segment, action domain.ActionType, value float64) (MutationRequest, error) {
	req := MutationRequest{
		SegmentID:  seg.ID,
		CampaignID: seg.CampaignID,
		Kind:       seg.Kind,
		Action:     action,
	}
	switch {
	case action.SetsValue():
		v := domain.RoundControl(value, domain.DefaultUnit(seg.Kind))
		req.Value = &v
	case action == domain.ActionPause:
		req.State = string(domain.SegmentPaused)
	case action == domain.ActionEnable:
		req.State = string(domain.SegmentEnabled)
	case action == domain.ActionNegativeExact, action == domain.ActionNegativePhrase:
		if seg.Text == "" {
			return req, fmt.Errorf("%w: negative for %s has no text", ErrRejected, seg.ID)
		}
		req.Text = seg.Text
		req.MatchType = "exact"
		if action == domain.ActionNegativePhrase {
			req.MatchType = "phrase"
		}
	case action == domain.ActionRemoveNegative:
		req.Text = seg.Text
	default:
		return req, fmt.Errorf("%w: unsupported action %q", ErrRejected, action)
	}
	return req, nil
}

// Apply pushes one mutation. It blocks on the rate limiter and honours ctx.
func (c *Client) Apply(ctx context.Context, seg domain.Segment, action domain.ActionType, value float64) error {
	body, err := BuildRequest(seg, action, value)
	if err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.post(ctx, "/v1/mutations", body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.clientID != "" {
		req.Header.Set(ClientIDHeader, c.clientID)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(respBody))
	var eb errorBody
	if json.Unmarshal(respBody, &eb) == nil && eb.Message != "" {
		msg = eb.Message
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && !httpretry.IsRetryableStatus(resp.StatusCode) {
		return fmt.Errorf("%w (status %d): %s", ErrRejected, resp.StatusCode, msg)
	}
	return fmt.Errorf("API error (status %d): %s", resp.StatusCode, msg)
}

// BreakerState reports the current circuit breaker state.
func (c *Client) BreakerState() gobreaker.State { return c.breaker.State() }
