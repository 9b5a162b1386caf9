// github.com/frankiekoifi/gamestake/services/payment_gateway_client.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentGateway initiates deposits with the external payment provider
// (M-Pesa STK push, PayPal order). The provider later delivers asynchronous
// confirmation events keyed by the returned reference; those land on the
// payments webhook and are reconciled by WalletService.HandlePaymentEvent.
type PaymentGateway interface {
	InitiateDeposit(ctx context.Context, userID string, amount decimal.Decimal, method string) (reference string, err error)
}

// PaymentEvent is one asynchronous confirmation from the gateway. Delivery is
// at-least-once and unordered.
type PaymentEvent struct {
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"` // "success" or "failed"
	Receipt   string          `json:"receipt,omitempty"`
	Detail    string          `json:"detail,omitempty"`
}

// GatewayClient talks to the payments service over HTTP.
type GatewayClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewGatewayClient() *GatewayClient {
	baseURL := os.Getenv("PAYMENT_GATEWAY_URL")
	if baseURL == "" {
		log.Fatal("PAYMENT_GATEWAY_URL environment variable is required")
	}
	token := os.Getenv("PAYMENT_GATEWAY_TOKEN")
	if token == "" {
		log.Fatal("PAYMENT_GATEWAY_TOKEN environment variable is required")
	}

	return &GatewayClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type initiateDepositResponse struct {
	Reference string `json:"reference"`
}

// InitiateDeposit asks the gateway to start a deposit (e.g. an STK push to
// the user's phone) and returns the reference the confirmation event will
// carry. The reference is minted here so a gateway that echoes nothing still
// yields a usable idempotency key.
func (c *GatewayClient) InitiateDeposit(ctx context.Context, userID string, amount decimal.Decimal, method string) (string, error) {
	reference := fmt.Sprintf("DEP_%d_%s", time.Now().UnixNano(), userID)

	reqBody := map[string]interface{}{
		"reference": reference,
		"user_id":   userID,
		"amount":    amount,
		"method":    method,
	}
	jsonData, _ := json.Marshal(reqBody)

	url := fmt.Sprintf("%s/api/v1/payments/initiate", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call payment gateway: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		log.Printf("PaymentGateway /initiate returned %d: %s", resp.StatusCode, string(body))
		return "", fmt.Errorf("payment initiation failed: %d", resp.StatusCode)
	}

	var out initiateDepositResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if out.Reference != "" {
		reference = out.Reference
	}
	return reference, nil
}
