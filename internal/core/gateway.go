package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// SessionRequest is the phase-one payout session creation input.
type SessionRequest struct {
	Amount      decimal.Decimal
	Recipient   string // Telebirr wallet number, 251XXXXXXXXX
	Reference   string // idempotency reference, the payment id
	CallbackURL string
	MerchantKey string
}

// SessionResponse carries the gateway-side session reservation.
type SessionResponse struct {
	SessionID string
	Status    string
}

// TransferResponse is the synchronous ack of phase two. Accepted only means
// "taken for processing"; settlement is reported later via webhook.
type TransferResponse struct {
	Accepted bool
}

// PayoutGateway is the external payout provider capability the orchestrator
// consumes. Implementations classify failures via apperr.GatewayError so the
// orchestrator can tell structural rejections from transient ones.
type PayoutGateway interface {
	CreatePayoutSession(ctx context.Context, req SessionRequest) (*SessionResponse, error)
	ExecuteTransfer(ctx context.Context, sessionID, recipient, merchantKey string) (*TransferResponse, error)
}
