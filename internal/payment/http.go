package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmehdipour/paysms/internal/breaker"
	"github.com/jmehdipour/paysms/internal/model"
)

type HTTPConfig struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	FailThreshold int
	OpenFor       time.Duration
}

// HTTPGateway talks JSON to the gateway's /charges and /refunds endpoints.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
	br      *breaker.MicroBreaker
}

var _ Gateway = (*HTTPGateway)(nil)

func NewHTTPGateway(cfg HTTPConfig) *HTTPGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		br:      breaker.New(cfg.FailThreshold, cfg.OpenFor),
	}
}

type chargeBody struct {
	OrderID string      `json:"order_id"`
	Amount  model.Money `json:"amount"`
}

type refundBody struct {
	TransactionID string      `json:"transaction_id"`
	Amount        model.Money `json:"amount"`
}

type gatewayReply struct {
	TransactionID string `json:"transaction_id"`
	RefundID      string `json:"refund_id"`
	Reason        string `json:"reason"`
	Error         string `json:"error"`
}

func (g *HTTPGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}

	ok, reply, err := g.post(ctx, "/charges", key, chargeBody{OrderID: req.OrderID, Amount: req.Amount})
	if err != nil {
		return ChargeResult{}, err
	}
	if !ok {
		return ChargeResult{Reason: reply.reason()}, nil
	}
	if reply.TransactionID == "" {
		return ChargeResult{}, fmt.Errorf("payment: charge for order %s accepted without transaction id", req.OrderID)
	}
	return ChargeResult{Success: true, TransactionID: reply.TransactionID}, nil
}

func (g *HTTPGateway) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	ok, reply, err := g.post(ctx, "/refunds", "refund-"+req.TransactionID, refundBody{TransactionID: req.TransactionID, Amount: req.Amount})
	if err != nil {
		return RefundResult{}, err
	}
	if !ok {
		return RefundResult{Reason: reply.reason()}, nil
	}
	return RefundResult{Success: true, RefundID: reply.RefundID}, nil
}

func (r gatewayReply) reason() string {
	if r.Reason != "" {
		return r.Reason
	}
	if r.Error != "" {
		return r.Error
	}
	return "declined"
}

// post reports ok=false for a 4xx decline. 5xx and transport errors count
// against the breaker and come back as errors.
func (g *HTTPGateway) post(ctx context.Context, path, idemKey string, body any) (bool, gatewayReply, error) {
	var reply gatewayReply

	if !g.br.TryAcquire() {
		return false, reply, fmt.Errorf("payment %s: %w", path, breaker.ErrOpen)
	}

	b, err := json.Marshal(body)
	if err != nil {
		return false, reply, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return false, reply, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idemKey)
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	res, err := g.client.Do(req)
	if err != nil {
		g.br.OnFailure()
		return false, reply, fmt.Errorf("payment %s: %w", path, err)
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	_ = json.Unmarshal(raw, &reply)

	switch {
	case res.StatusCode/100 == 2:
		g.br.OnSuccess()
		return true, reply, nil
	case res.StatusCode/100 == 4:
		g.br.OnSuccess()
		return false, reply, nil
	default:
		g.br.OnFailure()
		return false, reply, fmt.Errorf("payment %s: status=%d", path, res.StatusCode)
	}
}
