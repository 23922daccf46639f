// Package sms sends text messages to patients through Twilio's REST API.
package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ariebrainware/physio-practice/util"
	"github.com/rs/zerolog/log"
)

const (
	MaxBodyChars   = 1600
	maxAttempts    = 3
	defaultBaseURL = "https://api.twilio.com"
)

var (
	ErrNotConfigured    = errors.New("sms: twilio credentials missing")
	ErrInvalidRecipient = errors.New("sms: invalid recipient phone number")
	ErrInvalidBody      = errors.New("sms: body must be 1-1600 characters")
)

type Message struct {
	To   string `json:"to" binding:"required"`
	Body string `json:"body" binding:"required"`
}

type Result struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
	To     string `json:"to"`
}

type Sender interface {
	Send(ctx context.Context, msg Message) (Result, error)
}

type Config struct {
	AccountSID    string
	AuthToken     string
	From          string
	DefaultRegion string
}

// TwilioSender posts SMS messages using Twilio's Messages API.
type TwilioSender struct {
	accountSID string
	authToken  string
	from       string
	region     string
	baseURL    string
	httpClient *http.Client
	backoff    func(attempt int) time.Duration
}

// NewTwilioSender returns nil when credentials are incomplete.
func NewTwilioSender(cfg Config) *TwilioSender {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.From == "" {
		return nil
	}
	return &TwilioSender{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.From,
		region:     cfg.DefaultRegion,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		backoff:    jitter,
	}
}

func jitter(int) time.Duration {
	return time.Duration(200+rand.Intn(300)) * time.Millisecond
}

// Prepare normalizes the recipient and checks the body.
func Prepare(msg Message, region string) (Message, error) {
	to, err := util.NormalizePhone(msg.To, region)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}
	body := strings.TrimSpace(msg.Body)
	if body == "" || len([]rune(body)) > MaxBodyChars {
		return Message{}, ErrInvalidBody
	}
	return Message{To: to, Body: body}, nil
}

// Send dispatches a single SMS, retrying transient failures.
func (s *TwilioSender) Send(ctx context.Context, msg Message) (Result, error) {
	if s == nil {
		return Result{}, ErrNotConfigured
	}
	msg, err := Prepare(msg, s.region)
	if err != nil {
		return Result{}, err
	}

	payload := url.Values{}
	payload.Set("To", msg.To)
	payload.Set("From", s.from)
	payload.Set("Body", msg.Body)
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
		if err != nil {
			return Result{}, err
		}
		req.SetBasicAuth(s.accountSID, s.authToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				res := Result{To: msg.To}
				var parsed struct {
					SID    string `json:"sid"`
					Status string `json:"status"`
				}
				if err := json.Unmarshal(body, &parsed); err == nil {
					res.SID = parsed.SID
					res.Status = parsed.Status
				}
				log.Info().Str("to", msg.To).Str("sid", res.SID).Int("attempt", attempt).Msg("twilio sms sent")
				return res, nil
			}
			lastErr = fmt.Errorf("twilio send failed: %s", formatTwilioError(resp.StatusCode, body))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				break
			}
		}

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(s.backoff(attempt)):
			}
		}
	}

	log.Warn().Err(lastErr).Str("to", msg.To).Msg("twilio sms failed")
	return Result{}, lastErr
}

type twilioAPIError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func formatTwilioError(status int, body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return fmt.Sprintf("status %d", status)
	}
	var parsed twilioAPIError
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil && parsed.Message != "" {
		if parsed.Code != 0 {
			return fmt.Sprintf("status %d code %d: %s", status, parsed.Code, parsed.Message)
		}
		return fmt.Sprintf("status %d: %s", status, parsed.Message)
	}
	return fmt.Sprintf("status %d: %s", status, trimmed)
}
