package email

import (
	"bytes"
	"fmt"
	"io"

	"github.com/emersion/go-message/mail"
)

// BuildRawMIME serializes a Message into a full RFC 5322 document, for
// providers that accept raw MIME instead of a structured payload.
func BuildRawMIME(m *Message) ([]byte, error) {
	var h mail.Header
	h.SetAddressList("From", []*mail.Address{{Name: m.From.Name, Address: m.From.Email}})
	if len(m.To) > 0 {
		h.SetAddressList("To", toMailAddresses(m.To))
	}
	if len(m.CC) > 0 {
		h.SetAddressList("Cc", toMailAddresses(m.CC))
	}
	if len(m.ReplyTo) > 0 {
		h.SetAddressList("Reply-To", toMailAddresses(m.ReplyTo))
	}
	if m.Subject != "" {
		h.SetSubject(m.Subject)
	}
	if !m.SendAt.IsZero() {
		h.SetDate(m.SendAt)
	}
	for key, val := range m.Headers {
		h.Set(key, val)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating mime writer: %w", err)
	}

	if m.Text != "" || m.HTML != "" {
		iw, err := mw.CreateInline()
		if err != nil {
			return nil, fmt.Errorf("creating inline part: %w", err)
		}
		if m.Text != "" {
			if err := writeInlinePart(iw, "text/plain", m.Text); err != nil {
				return nil, err
			}
		}
		if m.HTML != "" {
			if err := writeInlinePart(iw, "text/html", m.HTML); err != nil {
				return nil, err
			}
		}
		if err := iw.Close(); err != nil {
			return nil, fmt.Errorf("closing inline part: %w", err)
		}
	}

	for _, att := range m.Attachments {
		var ah mail.AttachmentHeader
		ah.SetFilename(att.Filename)
		if att.ContentType != "" {
			ah.SetContentType(att.ContentType, nil)
		}
		if att.Inline() {
			ah.Set("Content-Id", "<"+att.ContentID+">")
			ah.Set("Content-Disposition", "inline")
		}
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("creating attachment part: %w", err)
		}
		if _, err := aw.Write(att.Content); err != nil {
			return nil, fmt.Errorf("writing attachment: %w", err)
		}
		if err := aw.Close(); err != nil {
			return nil, fmt.Errorf("closing attachment: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing mime writer: %w", err)
	}
	return buf.Bytes(), nil
}

func writeInlinePart(iw *mail.InlineWriter, ctype, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(ctype, map[string]string{"charset": "utf-8"})
	pw, err := iw.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("creating %s part: %w", ctype, err)
	}
	if _, err := io.WriteString(pw, body); err != nil {
		return fmt.Errorf("writing %s part: %w", ctype, err)
	}
	return pw.Close()
}

func toMailAddresses(addrs []Address) []*mail.Address {
	out := make([]*mail.Address, len(addrs))
	for i, a := range addrs {
		out[i] = &mail.Address{Name: a.Name, Address: a.Email}
	}
	return out
}
