package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jmehdipour/paysms/internal/breaker"
)

// Provider is one carrier endpoint behind its own breaker.
type Provider interface {
	Name() string
	Ready() bool
	Acquire() bool
	Send(ctx context.Context, phone, content string) (Result, error)
}

type HTTPProvider struct {
	name     string
	baseURL  string
	sendPath string
	client   *http.Client
	br       *breaker.MicroBreaker
}

func NewHTTPProvider(name, baseURL, sendPath string, timeoutMs, failThreshold, openForMs int) *HTTPProvider {
	if timeoutMs <= 0 {
		timeoutMs = 3000
	}
	if sendPath == "" {
		sendPath = "/send"
	}

	return &HTTPProvider{
		name:     name,
		baseURL:  baseURL,
		sendPath: sendPath,
		client:   &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		br:       breaker.New(failThreshold, time.Duration(openForMs)*time.Millisecond),
	}
}

func (p *HTTPProvider) Name() string  { return p.name }
func (p *HTTPProvider) Ready() bool   { return p.br.Ready() }
func (p *HTTPProvider) Acquire() bool { return p.br.TryAcquire() }

type providerReq struct {
	Phone string `json:"phone"`
	Text  string `json:"text"`
}

type providerReply struct {
	MessageID string `json:"message_id"`
	Reason    string `json:"reason"`
	Error     string `json:"error"`
}

// Send posts one message. A 4xx is the carrier refusing this message and is
// returned as an unsuccessful Result; 5xx and transport errors are returned
// as errors and count against the breaker.
func (p *HTTPProvider) Send(ctx context.Context, phone, content string) (Result, error) {
	b, _ := json.Marshal(providerReq{Phone: phone, Text: content})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.sendPath, bytes.NewReader(b))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		p.br.OnFailure()
		return Result{}, fmt.Errorf("provider=%s: %w", p.name, err)
	}
	defer res.Body.Close()

	var reply providerReply
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	_ = json.Unmarshal(raw, &reply)

	switch res.StatusCode / 100 {
	case 2:
		p.br.OnSuccess()
		return Result{Success: true, DispatchID: reply.MessageID, Provider: p.name}, nil
	case 4:
		p.br.OnSuccess()
		reason := reply.Reason
		if reason == "" {
			reason = reply.Error
		}
		if reason == "" {
			reason = fmt.Sprintf("rejected with status %d", res.StatusCode)
		}
		return Result{Reason: reason, Provider: p.name}, nil
	default:
		p.br.OnFailure()
		return Result{}, fmt.Errorf("provider=%s path=%s status=%d", p.name, p.sendPath, res.StatusCode)
	}
}
