package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/example/storefront/internal/metrics"
)

// PaymentIntentRequest describes an amount to collect, in minor currency units.
type PaymentIntentRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// PaymentIntent is the gateway-side order created for a checkout.
type PaymentIntent struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// PaymentGateway creates remote payment intents and checks the signatures the
// gateway hands to the client after a successful payment.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error)
	VerifySignature(intentID, paymentID, signature string) bool
}

const defaultRazorpayBaseURL = "https://api.razorpay.com/v1"

// RazorpayClient talks to the Razorpay Orders API.
type RazorpayClient struct {
	baseURL   string
	keyID     string
	keySecret string
	http      *http.Client
}

var _ PaymentGateway = (*RazorpayClient)(nil)

// NewRazorpayClient builds a client. Per-call deadlines come from the caller's
// context; the client timeout is only a backstop.
func NewRazorpayClient(baseURL, keyID, keySecret string) *RazorpayClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultRazorpayBaseURL
	}
	return &RazorpayClient{
		baseURL:   baseURL,
		keyID:     keyID,
		keySecret: keySecret,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

type razorpayErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateIntent creates a Razorpay order.
func (c *RazorpayClient) CreateIntent(ctx context.Context, in PaymentIntentRequest) (*PaymentIntent, error) {
	if c.keyID == "" || c.keySecret == "" {
		return nil, errors.New("razorpay credentials are not configured")
	}

	start := time.Now()
	intent, err := c.createIntent(ctx, in)
	outcome := "ok"
	switch {
	case isTimeout(err):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	metrics.ObserveGateway("razorpay", outcome, start)
	return intent, err
}

func (c *RazorpayClient) createIntent(ctx context.Context, in PaymentIntentRequest) (*PaymentIntent, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal razorpay order payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create razorpay order request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute razorpay order request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read razorpay order response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr razorpayErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Description != "" {
			return nil, fmt.Errorf("razorpay order request failed: status %d: %s: %s", resp.StatusCode, apiErr.Error.Code, apiErr.Error.Description)
		}
		return nil, fmt.Errorf("razorpay order request failed: status %d, body: %s", resp.StatusCode, string(respBody))
	}

	var intent PaymentIntent
	if err := json.Unmarshal(respBody, &intent); err != nil {
		return nil, fmt.Errorf("unmarshal razorpay order response: %w", err)
	}
	if intent.ID == "" {
		return nil, errors.New("razorpay order response missing id")
	}
	return &intent, nil
}

// Signature is the lowercase hex HMAC-SHA256 of "intentID|paymentID" keyed
// with the API secret.
func (c *RazorpayClient) Signature(intentID, paymentID string) string {
	return PaymentSignature(c.keySecret, intentID, paymentID)
}

// VerifySignature compares in constant time.
func (c *RazorpayClient) VerifySignature(intentID, paymentID, signature string) bool {
	if c.keySecret == "" {
		return false
	}
	expected := c.Signature(intentID, paymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// PaymentSignature computes the gateway payment signature for secret.
func PaymentSignature(secret, intentID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(intentID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
