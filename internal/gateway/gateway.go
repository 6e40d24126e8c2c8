package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/dhblabs/settlement-backend/internal/utils/config"
	"github.com/dhblabs/settlement-backend/internal/utils/logger"
)

var (
	// ErrGatewayUnavailable marks transient gateway failures (timeouts, 5xx).
	// Callers must not record a terminal settlement failure on this alone.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	ErrSessionNotFound = errors.New("gateway session not found")
)

const requestTimeout = 15 * time.Second

type Client struct {
	appConfig  *config.AppConfig
	logger     *logger.Logger
	httpClient *http.Client
}

func New(appConfig *config.AppConfig, logger *logger.Logger) IGateway {
	return &Client{
		appConfig: appConfig,
		logger:    logger,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

type createSessionRequest struct {
	Amount     string            `json:"amount"`
	Currency   string            `json:"currency"`
	SuccessURL string            `json:"success_url"`
	CancelURL  string            `json:"cancel_url"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type sessionResponse struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	PaymentStatus string `json:"payment_status"`
	ExpiresAt     int64  `json:"expires_at"`
}

type chargeResponse struct {
	Fee          string `json:"fee"`
	Net          string `json:"net"`
	ExchangeRate string `json:"exchange_rate"`
}

func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	payload, err := json.Marshal(createSessionRequest{
		Amount:     req.Amount.String(),
		Currency:   req.Currency,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
		Metadata:   req.Metadata,
	})
	if err != nil {
		return nil, err
	}

	var body sessionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/checkout/sessions", payload, &body); err != nil {
		return nil, err
	}

	if body.ID == "" {
		return nil, errors.Wrap(ErrGatewayUnavailable, "gateway returned session without id")
	}

	return &CheckoutSession{
		SessionID: body.ID,
		URL:       body.URL,
		ExpiresAt: body.ExpiresAt,
	}, nil
}

func (c *Client) GetSessionStatus(ctx context.Context, sessionID string) (SessionStatus, error) {
	var body sessionResponse
	err := c.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+sessionID, nil, &body)
	if err != nil {
		return "", err
	}

	if body.PaymentStatus == "paid" {
		return SessionStatusPaid, nil
	}
	return SessionStatusUnpaid, nil
}

func (c *Client) GetChargeBreakdown(ctx context.Context, sessionID string) (*ChargeBreakdown, error) {
	var body chargeResponse
	err := c.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+sessionID+"/charge", nil, &body)
	if err != nil {
		return nil, err
	}

	fee, err := decimal.NewFromString(body.Fee)
	if err != nil {
		return nil, errors.Wrap(err, "parse fee")
	}
	net, err := decimal.NewFromString(body.Net)
	if err != nil {
		return nil, errors.Wrap(err, "parse net")
	}
	rate, err := decimal.NewFromString(body.ExchangeRate)
	if err != nil {
		return nil, errors.Wrap(err, "parse exchange rate")
	}

	return &ChargeBreakdown{
		Fee:          fee,
		Net:          net,
		ExchangeRate: rate,
	}, nil
}

func (c *Client) VerifyWebhookSignature(rawBody []byte, signatureHeader string) error {
	return VerifySignature(rawBody, signatureHeader, c.appConfig.Gateway.WebhookSecret, time.Now())
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	var reqBody *bytes.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.appConfig.Gateway.BaseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.appConfig.Gateway.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("[gateway][do]", map[string]string{
			"method": method,
			"path":   path,
			"error":  err.Error(),
		})
		return errors.Wrap(ErrGatewayUnavailable, err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errors.Wrapf(ErrSessionNotFound, "path %s", path)
	case resp.StatusCode >= 500:
		return errors.Wrapf(ErrGatewayUnavailable, "gateway returned status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("gateway rejected request with status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
