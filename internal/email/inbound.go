package email

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// InboundMessage is a received email parsed into the canonical model.
type InboundMessage struct {
	From    []Address `json:"from,omitempty"`
	To      []Address `json:"to,omitempty"`
	CC      []Address `json:"cc,omitempty"`
	ReplyTo []Address `json:"reply_to,omitempty"`

	Subject   string    `json:"subject,omitempty"`
	Date      time.Time `json:"date,omitempty"`
	MessageID string    `json:"message_id,omitempty"`

	Text string `json:"text,omitempty"`
	HTML string `json:"html,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`

	// SMTP envelope, when the provider reports it separately from the
	// message headers.
	EnvelopeSender    string `json:"envelope_sender,omitempty"`
	EnvelopeRecipient string `json:"envelope_recipient,omitempty"`
}

// ParseRawMIME parses a full raw MIME message into an InboundMessage.
func ParseRawMIME(raw string) (*InboundMessage, error) {
	mr, err := mail.CreateReader(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing mime message: %w", err)
	}

	msg := &InboundMessage{
		From:    headerAddresses(mr.Header, "From"),
		To:      headerAddresses(mr.Header, "To"),
		CC:      headerAddresses(mr.Header, "Cc"),
		ReplyTo: headerAddresses(mr.Header, "Reply-To"),
	}
	if subj, err := mr.Header.Subject(); err == nil {
		msg.Subject = subj
	}
	if date, err := mr.Header.Date(); err == nil {
		msg.Date = date
	}
	if id, err := mr.Header.MessageID(); err == nil {
		msg.MessageID = id
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading mime part: %w", err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ctype, _, _ := h.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, fmt.Errorf("reading mime body: %w", err)
			}
			if ctype == "text/html" {
				msg.HTML = string(body)
			} else {
				msg.Text = string(body)
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			ctype, _, _ := h.ContentType()
			content, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, fmt.Errorf("reading attachment: %w", err)
			}
			cid := strings.Trim(h.Get("Content-Id"), "<>")
			msg.Attachments = append(msg.Attachments, Attachment{
				Filename:    filename,
				ContentType: ctype,
				Content:     content,
				ContentID:   cid,
			})
		}
	}
	return msg, nil
}

func headerAddresses(h mail.Header, key string) []Address {
	list, err := h.AddressList(key)
	if err != nil || len(list) == 0 {
		return nil
	}
	out := make([]Address, 0, len(list))
	for _, a := range list {
		out = append(out, Address{Email: a.Address, Name: a.Name})
	}
	return out
}
