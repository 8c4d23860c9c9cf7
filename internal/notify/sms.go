package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// SMSSender delivers reminder texts.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// GatewaySMSSender posts messages to an HTTP SMS gateway.
type GatewaySMSSender struct {
	baseURL    string
	apiKey     string
	from       string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewGatewaySMSSender(baseURL, apiKey, from string, logger zerolog.Logger) *GatewaySMSSender {
	return &GatewaySMSSender{
		baseURL:    baseURL,
		apiKey:     apiKey,
		from:       from,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

type gatewayMessage struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}

func (s *GatewaySMSSender) SendSMS(ctx context.Context, to, body string) error {
	payload, err := json.Marshal(gatewayMessage{From: s.from, To: to, Text: body})
	if err != nil {
		return fmt.Errorf("marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}

	s.logger.Info().Str("to", to).Msg("reminder sms sent")
	return nil
}

// StubSMSSender logs instead of sending.
type StubSMSSender struct {
	logger zerolog.Logger
}

func NewStubSMSSender(logger zerolog.Logger) *StubSMSSender {
	return &StubSMSSender{logger: logger}
}

func (s *StubSMSSender) SendSMS(ctx context.Context, to, body string) error {
	s.logger.Info().Str("to", to).Msg("stub sms sender: would send")
	return nil
}

var (
	_ SMSSender = (*GatewaySMSSender)(nil)
	_ SMSSender = (*StubSMSSender)(nil)
)
