package fetchers

import (
	"bytes"
	"io"
	"mime"
	"net/textproto"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/ikatson/betterimap/pkg/base"
)

// HeaderValue is one decoded header value. When decoding fails, Err carries
// the reason and Text degrades to the raw wire form; the rest of the message
// is unaffected.
type HeaderValue struct {
	Text string
	Raw  string
	Err  error
}

// Attachment is an extracted message attachment. Data is the
// transfer-decoded payload, preserved byte-exact; Size is len(Data).
type Attachment struct {
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
}

// Message is the parsed, decoded representation of a fetched mail payload.
// It is immutable after construction and owned by the caller.
type Message struct {
	ID      base.MessageID
	Subject string
	Date    time.Time
	From    base.Address
	To      []base.Address
	Cc      []base.Address

	// Headers holds every header of the message, keyed by canonical MIME
	// header name, with per-value decode status.
	Headers map[string][]HeaderValue

	Text        string
	HTML        string
	Attachments []Attachment
}

// parseMessage turns a raw RFC 5322 payload into a Message. Decoding never
// fails the whole message: an undecodable header degrades to its raw form,
// and a payload that cannot be parsed at all is exposed as plain text.
func parseMessage(raw []byte, internalDate time.Time) *Message {
	msg := &Message{Date: internalDate}

	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		msg.Text = string(raw)
		return msg
	}
	mr := mail.NewReader(entity)

	header := mr.Header
	msg.Headers = collectHeaders(&header)

	if subject, err := header.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = header.Get("Subject")
	}

	if date, err := header.Date(); err == nil && !date.IsZero() {
		msg.Date = date
	}

	if from := addressList(&header, "From"); len(from) > 0 {
		msg.From = from[0]
	}
	msg.To = addressList(&header, "To")
	msg.Cc = addressList(&header, "Cc")

	walkParts(mr, msg)
	return msg
}

func collectHeaders(header *mail.Header) map[string][]HeaderValue {
	out := make(map[string][]HeaderValue)
	fields := header.Fields()
	for fields.Next() {
		key := textproto.CanonicalMIMEHeaderKey(fields.Key())
		value := HeaderValue{Raw: fields.Value()}
		if text, err := fields.Text(); err == nil {
			value.Text = text
		} else {
			value.Text = fields.Value()
			value.Err = err
		}
		out[key] = append(out[key], value)
	}
	return out
}

func addressList(header *mail.Header, key string) []base.Address {
	parsed, err := header.AddressList(key)
	if err != nil || len(parsed) == 0 {
		return nil
	}
	out := make([]base.Address, 0, len(parsed))
	for _, addr := range parsed {
		out = append(out, base.Address{Name: addr.Name, Addr: addr.Address})
	}
	return out
}

func walkParts(mr *mail.Reader, msg *Message) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			return
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, params, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain") && params["name"] == "" && msg.Text == "":
				msg.Text = string(body)
			case strings.HasPrefix(contentType, "text/html") && params["name"] == "" && msg.HTML == "":
				msg.HTML = string(body)
			case params["name"] != "":
				// Inline part that still carries a filename.
				msg.Attachments = append(msg.Attachments, Attachment{
					Filename:    decodeFilename(params["name"]),
					ContentType: contentType,
					Size:        int64(len(body)),
					Data:        body,
				})
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			msg.Attachments = append(msg.Attachments, Attachment{
				Filename:    filename,
				ContentType: contentType,
				Size:        int64(len(body)),
				Data:        body,
			})
		}
	}
}

func decodeFilename(name string) string {
	dec := new(mime.WordDecoder)
	if decoded, err := dec.DecodeHeader(name); err == nil {
		return decoded
	}
	return name
}
