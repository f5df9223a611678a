package otp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jaytaylor/html2text"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GmailMailbox reads a Gmail inbox through a domain-wide-delegated service
// account. The API session is owned by this instance and rebuilt when the
// provider rejects it, so no authentication state outlives a failure.
type GmailMailbox struct {
	keyJSON []byte
	user    string

	mu      sync.Mutex
	service *gmail.Service
}

// NewGmailMailbox creates a mailbox for user, authenticating with the given
// service-account key. The key needs the https://mail.google.com/ scope
// delegated for the user.
func NewGmailMailbox(keyJSON []byte, user string) *GmailMailbox {
	return &GmailMailbox{keyJSON: keyJSON, user: user}
}

func (m *GmailMailbox) client(ctx context.Context) (*gmail.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.service != nil {
		return m.service, nil
	}

	conf, err := google.JWTConfigFromJSON(m.keyJSON, gmail.MailGoogleComScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account key: %w", err)
	}
	conf.Subject = m.user

	service, err := gmail.NewService(ctx, option.WithHTTPClient(conf.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	m.service = service
	return service, nil
}

// invalidate drops the cached API session after an authentication failure;
// the next call builds a fresh one.
func (m *GmailMailbox) invalidate(err error) {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden) {
		m.mu.Lock()
		m.service = nil
		m.mu.Unlock()
	}
}

// List implements Mailbox.
func (m *GmailMailbox) List(ctx context.Context, sender, subject string) ([]string, error) {
	service, err := m.client(ctx)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("in:inbox from:%s subject:(%q)", sender, subject)
	resp, err := service.Users.Messages.List("me").Q(query).Context(ctx).Do()
	if err != nil {
		m.invalidate(err)
		return nil, fmt.Errorf("list messages: %w", err)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		if msg.Id != "" {
			ids = append(ids, msg.Id)
		}
	}
	return ids, nil
}

// Get implements Mailbox.
func (m *GmailMailbox) Get(ctx context.Context, id string) (*Message, error) {
	service, err := m.client(ctx)
	if err != nil {
		return nil, err
	}

	msg, err := service.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		m.invalidate(err)
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}

	body := ""
	if msg.Payload != nil {
		body = findText(msg.Payload)
	}
	return &Message{
		ID:       id,
		Received: time.UnixMilli(msg.InternalDate),
		Body:     body,
	}, nil
}

// Delete implements Mailbox.
func (m *GmailMailbox) Delete(ctx context.Context, id string) error {
	service, err := m.client(ctx)
	if err != nil {
		return err
	}
	if err := service.Users.Messages.Delete("me", id).Context(ctx).Do(); err != nil {
		m.invalidate(err)
		return fmt.Errorf("delete message %s: %w", id, err)
	}
	return nil
}

// findText walks a MIME part tree and returns the first renderable text,
// preferring text/plain over converted HTML inside multipart/alternative.
func findText(part *gmail.MessagePart) string {
	if part.Body != nil && part.Body.Data != "" {
		data, err := decodeBody(part.Body.Data)
		if err != nil {
			return ""
		}
		if part.MimeType == "text/html" {
			text, err := html2text.FromString(data, html2text.Options{TextOnly: true})
			if err != nil {
				return ""
			}
			return text
		}
		return data
	}

	if part.MimeType == "multipart/alternative" {
		for _, mime := range []string{"text/plain", "text/html"} {
			for _, sub := range part.Parts {
				if sub.MimeType != mime {
					continue
				}
				if text := findText(sub); text != "" {
					return text
				}
			}
		}
	}

	for _, sub := range part.Parts {
		if text := findText(sub); text != "" {
			return text
		}
	}
	return ""
}

func decodeBody(data string) (string, error) {
	// Gmail uses URL-safe base64; padding varies by producer.
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
		if err != nil {
			return "", fmt.Errorf("decode message body: %w", err)
		}
	}
	return string(decoded), nil
}
