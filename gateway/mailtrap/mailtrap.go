// Package mailtrap sends transactional email through the Mailtrap API.
package mailtrap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/tradecore/provision"
)

// DefaultTimeout bounds a single API call.
const DefaultTimeout = 10 * time.Second

// Recipient is a single address in the API payload.
type Recipient struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type emailRequest struct {
	From     Recipient   `json:"from"`
	To       []Recipient `json:"to"`
	Subject  string      `json:"subject"`
	HTML     string      `json:"html,omitempty"`
	Text     string      `json:"text,omitempty"`
	Category string      `json:"category,omitempty"`
}

// Gateway is a provision.NotificationGateway backed by Mailtrap.
type Gateway struct {
	apiKey    string
	url       string
	fromEmail string
	fromName  string
	client    *http.Client
	logger    provision.Logger
}

var _ provision.NotificationGateway = (*Gateway)(nil)

// Option customizes the gateway.
type Option func(*Gateway)

// WithHTTPClient overrides the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		if c != nil {
			g.client = c
		}
	}
}

// WithSender sets the from address on outgoing mail.
func WithSender(email, name string) Option {
	return func(g *Gateway) {
		g.fromEmail = email
		g.fromName = name
	}
}

// WithLogger overrides the default logger.
func WithLogger(l provision.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// New builds a Mailtrap gateway. url is the full send endpoint.
func New(url, apiKey string, opts ...Option) *Gateway {
	g := &Gateway{
		apiKey:    apiKey,
		url:       url,
		fromEmail: "noreply@tradecore.io",
		fromName:  "Trade Platform",
		client:    &http.Client{Timeout: DefaultTimeout},
		logger:    provision.DefaultLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// SendVerificationCode delivers the 6-digit challenge code.
func (g *Gateway) SendVerificationCode(ctx context.Context, email, name, code string, purpose provision.ChallengePurpose) error {
	subject := "Your verification code"
	category := "verification_signup"
	if purpose == provision.PurposeLogin {
		subject = "Your sign-in verification code"
		category = "verification_login"
	}

	html := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
	<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
		<h2>Verification Code</h2>
		<p>Hello %s,</p>
		<p>Your verification code is:</p>
		<p style="font-size: 28px; letter-spacing: 6px; font-weight: bold;">%s</p>
		<p>The code expires shortly. If you did not request it, ignore this email.</p>
	</div>
</body>
</html>`, name, code)

	text := fmt.Sprintf("Hello %s,\n\nYour verification code is: %s\n\nThe code expires shortly. If you did not request it, ignore this email.\n", name, code)

	return g.send(ctx, emailRequest{
		From:     Recipient{Email: g.fromEmail, Name: g.fromName},
		To:       []Recipient{{Email: email, Name: name}},
		Subject:  subject,
		HTML:     html,
		Text:     text,
		Category: category,
	})
}

// SendTemplated delivers a plain text email with the given subject.
func (g *Gateway) SendTemplated(ctx context.Context, email, subject, body string) error {
	return g.send(ctx, emailRequest{
		From:     Recipient{Email: g.fromEmail, Name: g.fromName},
		To:       []Recipient{{Email: email}},
		Subject:  subject,
		Text:     body,
		Category: "transactional",
	})
}

func (g *Gateway) send(ctx context.Context, payload emailRequest) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode email payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build email request")
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "email delivery failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		g.logger.Error("mailtrap returned %d: %s", resp.StatusCode, string(detail))
		return goerrors.New(
			fmt.Sprintf("email provider returned status %d", resp.StatusCode),
			goerrors.CategoryInternal,
		)
	}

	return nil
}
