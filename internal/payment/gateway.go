package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/backend-kasir/internal/pricing"
	"github.com/noah-isme/backend-kasir/internal/resilience"
)

// Gateway looks up captured amounts from the acquirer's JSON API.
type Gateway struct {
	BaseURL string
	Key     string
	Client  *http.Client
	Breaker *resilience.Breaker
	Retry   resilience.RetryPolicy
}

// NewGateway builds a Gateway whose client is traced with otelhttp.
func NewGateway(baseURL, key string, timeout time.Duration, breaker *resilience.Breaker, retry resilience.RetryPolicy) *Gateway {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Gateway{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Key:     key,
		Client:  &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Breaker: breaker,
		Retry:   retry,
	}
}

type lookupResponse struct {
	Amount pricing.Money `json:"amount"`
	Status string        `json:"status"`
}

// Verify fetches the capture for c.Reference. Only a "captured" status is accepted.
func (g *Gateway) Verify(ctx context.Context, c Check) (pricing.Money, error) {
	ref := strings.TrimSpace(c.Reference)
	if ref == "" {
		return pricing.Money{}, ErrMissingReference
	}
	var out lookupResponse
	err := resilience.Retry(ctx, g.Retry, func(ctx context.Context) error {
		call := func(ctx context.Context) error {
			var err error
			out, err = g.lookup(ctx, ref)
			return err
		}
		if g.Breaker == nil {
			return call(ctx)
		}
		return g.Breaker.Do(ctx, call)
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownReference), errors.Is(err, ErrNotCaptured):
			return pricing.Money{}, err
		case resilience.IsPermanent(err):
			return pricing.Money{}, err
		}
		return pricing.Money{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !strings.EqualFold(out.Status, "captured") {
		return pricing.Money{}, fmt.Errorf("%w: status %q", ErrNotCaptured, out.Status)
	}
	return out.Amount, nil
}

func (g *Gateway) lookup(ctx context.Context, ref string) (lookupResponse, error) {
	path := "/payments/" + url.PathEscape(ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+path, nil)
	if err != nil {
		return lookupResponse{}, resilience.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if g.Key != "" {
		req.Header.Set("Authorization", "Bearer "+g.Key)
		req.Header.Set("X-Signature", sign(g.Key, path))
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return lookupResponse{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return lookupResponse{}, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return lookupResponse{}, resilience.Permanent(ErrUnknownReference)
	case resp.StatusCode >= http.StatusInternalServerError:
		return lookupResponse{}, fmt.Errorf("gateway status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return lookupResponse{}, resilience.Permanent(fmt.Errorf("gateway status %d", resp.StatusCode))
	}
	var out lookupResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return lookupResponse{}, resilience.Permanent(fmt.Errorf("decode gateway response: %w", err))
	}
	return out, nil
}

// sign is the HMAC-SHA256 of the request path, hex encoded.
func sign(key, path string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(path))
	return hex.EncodeToString(mac.Sum(nil))
}
