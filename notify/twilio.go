/*
twilio.go - Twilio SMS transport

A thin REST client for the Twilio Messages API. There is no SDK dependency;
the API is a single form-encoded POST with basic auth, so a hand-rolled
client keeps the dependency surface flat.
*/
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/warp/risk-engine/school"
)

const twilioBaseURL = "https://api.twilio.com/2010-04-01"

// Twilio implements SmsSender over the Twilio Messages REST API.
type Twilio struct {
	accountSID string
	authToken  string
	from       string
	client     *http.Client
}

var _ SmsSender = (*Twilio)(nil)

func NewTwilio(accountSID, authToken, fromNumber string) *Twilio {
	return &Twilio{
		accountSID: accountSID,
		authToken:  authToken,
		from:       fromNumber,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *Twilio) SendSMS(ctx context.Context, contacts []school.Contact, body string) []Failure {
	var failures []Failure
	for _, c := range contacts {
		if c.Phone == "" {
			continue
		}
		if err := t.send(ctx, c.Phone, body); err != nil {
			failures = append(failures, Failure{Contact: c, Err: err})
		}
	}
	return failures
}

func (t *Twilio) send(ctx context.Context, to, body string) error {
	form := url.Values{}
	form.Set("From", t.from)
	form.Set("To", to)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", twilioBaseURL, t.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("twilio status %d: %s", resp.StatusCode, payload)
	}
	return nil
}
