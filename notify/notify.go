/*
Package notify carries weekly alerts to student contacts.

PURPOSE:
  Defines the two transport interfaces the weekly cycle dispatches through
  (email and SMS) plus the console and in-memory implementations used in
  development and tests. Production transports live in sendgrid.go and
  twilio.go.

FAILURE MODEL:
  A send failure for one contact never aborts the rest: implementations
  return one Failure per contact that could not be reached and keep going.
  Contacts without the relevant address (no email / no phone) are skipped
  silently, not reported as failures.

SEE ALSO:
  - report/: The weekly cycle calling these transports
  - sendgrid.go, twilio.go: Production implementations
*/
package notify

import (
	"context"
	"log"
	"sync"

	"github.com/warp/risk-engine/school"
)

// Failure reports one contact a transport could not reach.
type Failure struct {
	Contact school.Contact
	Err     error
}

// EmailSender delivers one message to every contact with an email address.
type EmailSender interface {
	SendEmail(ctx context.Context, contacts []school.Contact, subject, body string) []Failure
}

// SmsSender delivers one message to every contact with a phone number.
type SmsSender interface {
	SendSMS(ctx context.Context, contacts []school.Contact, body string) []Failure
}

// =============================================================================
// CONSOLE - Logs instead of sending (dev default)
// =============================================================================

type Console struct{}

var (
	_ EmailSender = Console{}
	_ SmsSender   = Console{}
)

func (Console) SendEmail(_ context.Context, contacts []school.Contact, subject, body string) []Failure {
	for _, c := range contacts {
		if c.Email == "" {
			continue
		}
		log.Printf("[Notify] email to=%s subject=%q body=%q", c.Email, subject, body)
	}
	return nil
}

func (Console) SendSMS(_ context.Context, contacts []school.Contact, body string) []Failure {
	for _, c := range contacts {
		if c.Phone == "" {
			continue
		}
		log.Printf("[Notify] sms to=%s body=%q", c.Phone, body)
	}
	return nil
}

// =============================================================================
// MEMORY - Records messages for tests
// =============================================================================

// SentMessage is one delivery recorded by the Memory transport.
type SentMessage struct {
	Channel string // "email" or "sms"
	To      string
	Subject string
	Body    string
}

// Memory implements both transports and records every delivery. Optionally
// fails specific recipients to exercise partial-failure paths.
type Memory struct {
	mu       sync.Mutex
	Messages []SentMessage

	// FailFor makes sends to these addresses/numbers return a Failure.
	FailFor map[string]error
}

var (
	_ EmailSender = (*Memory)(nil)
	_ SmsSender   = (*Memory)(nil)
)

func (m *Memory) SendEmail(_ context.Context, contacts []school.Contact, subject, body string) []Failure {
	var failures []Failure
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range contacts {
		if c.Email == "" {
			continue
		}
		if err, ok := m.FailFor[c.Email]; ok {
			failures = append(failures, Failure{Contact: c, Err: err})
			continue
		}
		m.Messages = append(m.Messages, SentMessage{Channel: "email", To: c.Email, Subject: subject, Body: body})
	}
	return failures
}

func (m *Memory) SendSMS(_ context.Context, contacts []school.Contact, body string) []Failure {
	var failures []Failure
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range contacts {
		if c.Phone == "" {
			continue
		}
		if err, ok := m.FailFor[c.Phone]; ok {
			failures = append(failures, Failure{Contact: c, Err: err})
			continue
		}
		m.Messages = append(m.Messages, SentMessage{Channel: "sms", To: c.Phone, Body: body})
	}
	return failures
}
