package services

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// EmailService adapts the Gmail API to the Service contract. It is
// optional: the registry only carries it when email is configured.
type EmailService struct {
	api     *gmail.Service
	address string
	log     zerolog.Logger
}

func NewEmailService(ctx context.Context, credentialsPath, address string, log zerolog.Logger) (*EmailService, error) {
	api, err := gmail.NewService(ctx,
		option.WithCredentialsFile(credentialsPath),
		option.WithScopes(gmail.GmailReadonlyScope, gmail.GmailSendScope),
	)
	if err != nil {
		return nil, fmt.Errorf("create gmail client: %w", err)
	}
	return &EmailService{
		api:     api,
		address: address,
		log:     log.With().Str("component", "email").Logger(),
	}, nil
}

func (s *EmailService) Execute(ctx context.Context, method string, params map[string]any) (*Result, error) {
	switch method {
	case "send_email":
		return s.sendEmail(ctx, params)
	case "list_emails":
		return s.listEmails(ctx, params)
	case "search_emails":
		return s.searchEmails(ctx, params)
	case "reply_to_email":
		return s.replyToEmail(ctx, params)
	default:
		return Errorf("unknown email method: %s", method), nil
	}
}

func (s *EmailService) sendEmail(ctx context.Context, params map[string]any) (*Result, error) {
	to := StringParam(params, "to")
	subject := StringParam(params, "subject")
	body := StringParam(params, "body")
	if to == "" || subject == "" {
		return Errorf("send_email requires to and subject"), nil
	}

	raw := rawMessage(s.address, to, subject, body, "", "")
	sent, err := s.api.Users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
	if err != nil {
		return Errorf("failed to send email: %v", err), nil
	}

	s.log.Info().Str("to", to).Str("message_id", sent.Id).Msg("email sent")
	return Success(fmt.Sprintf("Email sent to %s", to), map[string]any{
		"message_id": sent.Id,
		"to":         to,
		"subject":    subject,
	}), nil
}

func (s *EmailService) listEmails(ctx context.Context, params map[string]any) (*Result, error) {
	limit := IntParam(params, "limit", 5)

	list, err := s.api.Users.Messages.List("me").
		LabelIds("INBOX").
		MaxResults(int64(limit)).
		Context(ctx).
		Do()
	if err != nil {
		return Errorf("failed to list emails: %v", err), nil
	}

	emails, err := s.fetchSummaries(ctx, list.Messages)
	if err != nil {
		return Errorf("failed to fetch email details: %v", err), nil
	}
	return Success(fmt.Sprintf("Found %d emails", len(emails)), map[string]any{
		"emails": emails,
		"count":  len(emails),
	}), nil
}

func (s *EmailService) searchEmails(ctx context.Context, params map[string]any) (*Result, error) {
	query := StringParam(params, "query")
	if query == "" {
		return Errorf("search_emails requires query"), nil
	}
	limit := IntParam(params, "limit", 5)

	list, err := s.api.Users.Messages.List("me").
		Q(query).
		MaxResults(int64(limit)).
		Context(ctx).
		Do()
	if err != nil {
		return Errorf("failed to search emails: %v", err), nil
	}

	emails, err := s.fetchSummaries(ctx, list.Messages)
	if err != nil {
		return Errorf("failed to fetch email details: %v", err), nil
	}
	return Success(fmt.Sprintf("Found %d matching emails", len(emails)), map[string]any{
		"emails": emails,
		"count":  len(emails),
	}), nil
}

func (s *EmailService) replyToEmail(ctx context.Context, params map[string]any) (*Result, error) {
	emailID := StringParam(params, "email_id")
	body := StringParam(params, "body")
	if emailID == "" || body == "" {
		return Errorf("reply_to_email requires email_id and body"), nil
	}

	original, err := s.api.Users.Messages.Get("me", emailID).
		Format("metadata").
		MetadataHeaders("From", "Subject", "Message-ID").
		Context(ctx).
		Do()
	if err != nil {
		return Errorf("failed to load original email: %v", err), nil
	}

	var from, subject, messageID string
	if original.Payload != nil {
		for _, h := range original.Payload.Headers {
			switch h.Name {
			case "From":
				from = h.Value
			case "Subject":
				subject = h.Value
			case "Message-ID":
				messageID = h.Value
			}
		}
	}
	if subject == "" {
		subject = "(no subject)"
	}

	raw := rawMessage(s.address, from, "Re: "+subject, body, messageID, messageID)
	sent, err := s.api.Users.Messages.Send("me", &gmail.Message{
		Raw:      raw,
		ThreadId: original.ThreadId,
	}).Context(ctx).Do()
	if err != nil {
		return Errorf("failed to send reply: %v", err), nil
	}

	return Success(fmt.Sprintf("Reply sent to %s", from), map[string]any{
		"message_id": sent.Id,
		"to":         from,
	}), nil
}

func (s *EmailService) fetchSummaries(ctx context.Context, refs []*gmail.Message) ([]map[string]any, error) {
	emails := make([]map[string]any, 0, len(refs))
	for _, ref := range refs {
		msg, err := s.api.Users.Messages.Get("me", ref.Id).
			Format("metadata").
			MetadataHeaders("From", "Subject", "Date").
			Context(ctx).
			Do()
		if err != nil {
			return nil, err
		}
		entry := map[string]any{
			"id":      msg.Id,
			"preview": msg.Snippet,
		}
		if msg.Payload != nil {
			for _, h := range msg.Payload.Headers {
				switch h.Name {
				case "From":
					entry["from"] = h.Value
				case "Subject":
					entry["subject"] = h.Value
				case "Date":
					entry["date"] = h.Value
				}
			}
		}
		emails = append(emails, entry)
	}
	return emails, nil
}

func rawMessage(from, to, subject, body, inReplyTo, references string) string {
	msg := "From: " + from + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n"
	if inReplyTo != "" {
		msg += "In-Reply-To: " + inReplyTo + "\r\n"
	}
	if references != "" {
		msg += "References: " + references + "\r\n"
	}
	msg += "Content-Type: text/plain; charset=UTF-8\r\n\r\n" + body
	return base64.URLEncoding.EncodeToString([]byte(msg))
}
