package delivery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"gardenhub/internal/config"
)

const twilioBaseURL = "https://api.twilio.com"

// TwilioSender posts SMS messages to the Twilio REST API. 5xx and 429
// responses are retried with exponential back-off; other failures are final.
type TwilioSender struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

func NewTwilioSender(cfg config.TwilioConfig) *TwilioSender {
	return &TwilioSender{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.From,
		baseURL:    twilioBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxElapsedTime = 15 * time.Second
			return b
		},
	}
}

func (t *TwilioSender) Send(ctx context.Context, msg Message) error {
	if msg.Channel != ChannelSMS {
		return fmt.Errorf("%w: twilio cannot send %q", ErrUnsupportedChannel, msg.Channel)
	}
	if t.accountSID == "" || t.authToken == "" || t.from == "" {
		return ErrNotConfigured
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.baseURL, url.PathEscape(t.accountSID))
	form := url.Values{}
	form.Set("To", msg.To)
	form.Set("From", t.from)
	form.Set("Body", msg.Text)
	payload := form.Encode()

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.SetBasicAuth(t.accountSID, t.authToken)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := t.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		apiErr := fmt.Errorf("twilio: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return apiErr
		}
		return backoff.Permanent(apiErr)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(t.newBackOff(), t.maxRetries), ctx)
	return backoff.Retry(attempt, policy)
}
