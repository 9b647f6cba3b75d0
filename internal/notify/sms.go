package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"savannah-commerce/config"
)

// GatewaySMSSender posts messages to an Africa's Talking style SMS gateway
// over HTTP.
type GatewaySMSSender struct {
	cfg    config.NotifyConfig
	client *http.Client
}

func NewGatewaySMSSender(cfg config.NotifyConfig) *GatewaySMSSender {
	return &GatewaySMSSender{
		cfg: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type gatewayResponse struct {
	SMSMessageData struct {
		Recipients []struct {
			Number    string `json:"number"`
			Status    string `json:"status"`
			MessageID string `json:"messageId"`
		} `json:"Recipients"`
	} `json:"SMSMessageData"`
}

// SendSMS delivers one text and returns the gateway message id.
func (s *GatewaySMSSender) SendSMS(ctx context.Context, phone, text string) (string, error) {
	form := url.Values{}
	form.Set("username", s.cfg.SMSUsername)
	form.Set("to", phone)
	form.Set("message", text)
	if s.cfg.SMSSenderID != "" {
		form.Set("from", s.cfg.SMSSenderID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.SMSGatewayURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apiKey", s.cfg.SMSAPIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sms gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}

	var gw gatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&gw); err != nil {
		return "", fmt.Errorf("failed to decode gateway response: %w", err)
	}
	if len(gw.SMSMessageData.Recipients) == 0 {
		return "", fmt.Errorf("gateway accepted no recipients")
	}

	recipient := gw.SMSMessageData.Recipients[0]
	if recipient.Status != "Success" {
		return "", fmt.Errorf("gateway rejected recipient: %s", recipient.Status)
	}
	return recipient.MessageID, nil
}
