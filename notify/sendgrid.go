/*
sendgrid.go - SendGrid email transport

Sends one mail per contact through the SendGrid v3 API. A rejected or failed
send is reported as a per-contact Failure; remaining contacts still get
their mail.
*/
package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/warp/risk-engine/school"
)

// SendGrid implements EmailSender over the SendGrid API.
type SendGrid struct {
	key      string
	from     *sgmail.Email
	subjPref string
}

var _ EmailSender = (*SendGrid)(nil)

func NewSendGrid(key, appName, fromEmail string) *SendGrid {
	return &SendGrid{
		key:      key,
		from:     sgmail.NewEmail(appName, fromEmail),
		subjPref: "[" + appName + "] ",
	}
}

func (s *SendGrid) SendEmail(ctx context.Context, contacts []school.Contact, subject, body string) []Failure {
	var failures []Failure
	for _, c := range contacts {
		if c.Email == "" {
			continue
		}
		to := sgmail.NewEmail(c.Name, c.Email)
		msg := sgmail.NewSingleEmail(s.from, s.subjPref+subject, to, body, "")

		req := sendgrid.GetRequest(s.key, "/v3/mail/send", "https://api.sendgrid.com")
		req.Method = http.MethodPost
		req.Body = sgmail.GetRequestBody(msg)

		resp, err := sendgrid.MakeRequestWithContext(ctx, req)
		if err != nil {
			failures = append(failures, Failure{Contact: c, Err: err})
			continue
		}
		if resp.StatusCode >= http.StatusBadRequest {
			failures = append(failures, Failure{Contact: c, Err: fmt.Errorf("sendgrid status %d: %s", resp.StatusCode, resp.Body)})
		}
	}
	return failures
}
