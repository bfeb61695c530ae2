// Package arifpay implements the Telebirr B2C payout gateway client against
// the Arifpay HTTP API.
package arifpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"payroll.service/internal/core"
	"payroll.service/internal/core/apperr"
)

// Client calls the Arifpay Telebirr B2C endpoints over HTTP.
type Client struct {
	client  *http.Client
	baseURL string
}

// NewClient builds a gateway client. Outbound requests are traced.
func NewClient(baseURL string) *Client {
	return &Client{
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: baseURL,
	}
}

type sessionPayload struct {
	Amount      string `json:"amount"`
	Phonenumber string `json:"phonenumber"`
	Nonce       string `json:"nonce"`
	NotifyURL   string `json:"notifyUrl"`
}

type sessionResponse struct {
	Data struct {
		SessionID string `json:"sessionId"`
		Status    string `json:"transactionStatus"`
	} `json:"data"`
	Msg string `json:"msg"`
}

// CreatePayoutSession reserves a B2C transfer session with the provider.
func (c *Client) CreatePayoutSession(ctx context.Context, req core.SessionRequest) (*core.SessionResponse, error) {
	payload := sessionPayload{
		Amount:      req.Amount.StringFixed(2),
		Phonenumber: req.Recipient,
		Nonce:       req.Reference,
		NotifyURL:   req.CallbackURL,
	}

	var out sessionResponse
	err := c.post(ctx, "/Telebirr/b2c/session", payload, map[string]string{
		"Authorization": "Bearer " + req.MerchantKey,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Data.SessionID == "" {
		return nil, apperr.StructuralGateway(fmt.Sprintf("gateway returned no session id: %s", out.Msg), nil)
	}

	log.Ctx(ctx).Debug().Str("session_id", out.Data.SessionID).Msg("Payout session created")
	return &core.SessionResponse{SessionID: out.Data.SessionID, Status: out.Data.Status}, nil
}

type transferPayload struct {
	Sessionid   string `json:"Sessionid"`
	Phonenumber string `json:"Phonenumber"`
}

type transferResponse struct {
	Data struct {
		Status string `json:"transactionStatus"`
	} `json:"data"`
	Msg string `json:"msg"`
}

// ExecuteTransfer triggers the transfer for an existing session. A successful
// response only means the provider accepted the order; settlement arrives on
// the webhook.
func (c *Client) ExecuteTransfer(ctx context.Context, sessionID, recipient, merchantKey string) (*core.TransferResponse, error) {
	payload := transferPayload{Sessionid: sessionID, Phonenumber: recipient}

	var out transferResponse
	err := c.post(ctx, "/Telebirr/b2c/transfer", payload, map[string]string{
		"x-arifpay-key": merchantKey,
	}, &out)
	if err != nil {
		return nil, err
	}

	// A 2xx envelope can still carry a refusal in the body.
	switch status := strings.ToUpper(strings.TrimSpace(out.Data.Status)); status {
	case "", "SUCCESS", "PENDING", "PROCESSING":
	default:
		return nil, apperr.StructuralGateway(
			fmt.Sprintf("gateway declined transfer with status %s: %s", status, out.Msg), nil)
	}

	log.Ctx(ctx).Debug().Str("session_id", sessionID).Str("status", out.Data.Status).
		Msg("Transfer accepted by gateway")
	return &core.TransferResponse{Accepted: true}, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, headers map[string]string, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling gateway payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("building gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Network errors and timeouts may have reached the provider.
		return apperr.TransientGateway("gateway call failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperr.TransientGateway("reading gateway response", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := json.Unmarshal(raw, out); err != nil {
			return apperr.StructuralGateway("undecodable gateway response", err)
		}
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// The request itself is wrong; retrying the same request cannot help.
		return apperr.StructuralGateway(fmt.Sprintf("gateway rejected request with status %d: %s", resp.StatusCode, truncate(raw, 200)), nil)
	default:
		return apperr.TransientGateway(fmt.Sprintf("gateway returned status %d", resp.StatusCode), nil)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
