package payments

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrUnreachable marks transport failures: connection errors, timeouts and
// 5xx answers. Callers treat it as retryable, never as a payment failure.
var ErrUnreachable = errors.New("payment gateway unreachable")

type ChargeStatus string

const (
	ChargeSuccess   ChargeStatus = "success"
	ChargeFailed    ChargeStatus = "failed"
	ChargeReversed  ChargeStatus = "reversed"
	ChargePending   ChargeStatus = "pending"
	ChargeOngoing   ChargeStatus = "ongoing"
	ChargeAbandoned ChargeStatus = "abandoned"
	ChargeQueued    ChargeStatus = "queued"
)

// Settled reports whether the status is a final answer from the gateway.
func (s ChargeStatus) Settled() bool {
	switch s {
	case ChargeSuccess, ChargeFailed, ChargeReversed:
		return true
	}
	return false
}

type Transaction struct {
	Reference       string          `json:"reference"`
	Amount          int64           `json:"amount"`
	Currency        string          `json:"currency"`
	Status          ChargeStatus    `json:"status"`
	Channel         string          `json:"channel"`
	GatewayResponse string          `json:"gateway_response"`
	Raw             json.RawMessage `json:"-"`
}

type InitializeRequest struct {
	Email       string
	Amount      int64
	Currency    string
	Reference   string
	CallbackURL string
}

type InitializeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type Gateway interface {
	Initialize(ctx context.Context, req InitializeRequest) (*InitializeResponse, error)
	Verify(ctx context.Context, reference string) (*Transaction, error)
}
