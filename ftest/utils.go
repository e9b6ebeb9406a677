package ftest

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	giimapserver "github.com/emersion/go-imap/v2/imapserver"
	giimapmemserver "github.com/emersion/go-imap/v2/imapserver/imapmemserver"
)

const (
	DefaultUser = "user@example.com"
	DefaultPass = "password"
)

// Message is one message to preload into the in-memory server.
type Message struct {
	Mailbox string
	Raw     string
	Time    time.Time
}

// Server is a running in-memory IMAP server for tests. User is exposed so
// tests can append messages after startup, e.g. to trigger idle
// notifications.
type Server struct {
	Addr string
	User *giimapmemserver.User
}

// Append adds one raw message and returns its UID.
func (s *Server) Append(t *testing.T, mailbox, raw string, when time.Time) uint32 {
	t.Helper()
	if when.IsZero() {
		when = time.Now()
	}
	data, err := s.User.Append(mailbox, newLiteral(t, raw), &imap.AppendOptions{Time: when})
	if err != nil {
		t.Fatalf("append message to %q: %v", mailbox, err)
	}
	return uint32(data.UID)
}

// ClientTLSConfig skips certificate verification for the self-signed test
// server.
func ClientTLSConfig() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true}
}

// SetupIMAPServer starts a TLS in-memory IMAP server with the given extra
// mailboxes (INBOX always exists) and preloaded messages. It returns the
// server and a cleanup function.
func SetupIMAPServer(t *testing.T, caps imap.CapSet, mailboxes []string, messages []Message) (*Server, func()) {
	t.Helper()

	tlsConfig := testTLSConfig(t)
	mem := giimapmemserver.New()
	user := giimapmemserver.NewUser(DefaultUser, DefaultPass)
	mem.AddUser(user)

	if err := user.Create("INBOX", nil); err != nil {
		t.Fatalf("create mailbox: %v", err)
	}
	for _, mailbox := range mailboxes {
		if strings.TrimSpace(mailbox) == "" {
			continue
		}
		if err := user.Create(mailbox, nil); err != nil {
			t.Fatalf("create mailbox %q: %v", mailbox, err)
		}
	}

	srv := &Server{User: user}
	for _, msg := range messages {
		mailbox := strings.TrimSpace(msg.Mailbox)
		if mailbox == "" {
			mailbox = "INBOX"
		}
		srv.Append(t, mailbox, msg.Raw, msg.Time)
	}

	server := giimapserver.New(&giimapserver.Options{
		NewSession: func(*giimapserver.Conn) (giimapserver.Session, *giimapserver.GreetingData, error) {
			return mem.NewSession(), nil, nil
		},
		Caps:         caps,
		TLSConfig:    tlsConfig,
		InsecureAuth: true,
	})

	ln, err := tls.Listen("tcp", "127.0.0.1:0", tlsConfig)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv.Addr = ln.Addr().String()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	cleanup := func() {
		_ = server.Close()
		_ = ln.Close()
		select {
		case <-errCh:
		default:
		}
	}

	return srv, cleanup
}

type literalReader struct {
	*bytes.Reader
	size int64
}

func newLiteral(t *testing.T, raw string) imap.LiteralReader {
	t.Helper()
	buf := []byte(raw)
	return &literalReader{
		Reader: bytes.NewReader(buf),
		size:   int64(len(buf)),
	}
}

func (lr *literalReader) Size() int64 {
	return lr.size
}

// PlainMessage builds a minimal single-part text message.
func PlainMessage(from, to, subject, body string) string {
	builder := &strings.Builder{}
	builder.WriteString("From: ")
	builder.WriteString(from)
	builder.WriteString("\r\n")
	builder.WriteString("To: ")
	builder.WriteString(to)
	builder.WriteString("\r\n")
	builder.WriteString("Subject: ")
	builder.WriteString(subject)
	builder.WriteString("\r\n")
	builder.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	builder.WriteString("\r\n")
	builder.WriteString(body)
	builder.WriteString("\r\n")
	return builder.String()
}

// MultipartMessage builds a multipart/mixed message with a plain-text part,
// an HTML part, and one base64-encoded attachment.
func MultipartMessage(from, to, subject, text, html, attachmentName string, attachment []byte) string {
	const boundary = "testboundary42"
	builder := &strings.Builder{}
	builder.WriteString("From: ")
	builder.WriteString(from)
	builder.WriteString("\r\n")
	builder.WriteString("To: ")
	builder.WriteString(to)
	builder.WriteString("\r\n")
	builder.WriteString("Subject: ")
	builder.WriteString(subject)
	builder.WriteString("\r\n")
	builder.WriteString("MIME-Version: 1.0\r\n")
	builder.WriteString("Content-Type: multipart/mixed; boundary=" + boundary + "\r\n")
	builder.WriteString("\r\n")

	builder.WriteString("--" + boundary + "\r\n")
	builder.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	builder.WriteString("\r\n")
	builder.WriteString(text)
	builder.WriteString("\r\n")

	builder.WriteString("--" + boundary + "\r\n")
	builder.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	builder.WriteString("\r\n")
	builder.WriteString(html)
	builder.WriteString("\r\n")

	builder.WriteString("--" + boundary + "\r\n")
	builder.WriteString("Content-Type: application/octet-stream\r\n")
	builder.WriteString("Content-Disposition: attachment; filename=\"" + attachmentName + "\"\r\n")
	builder.WriteString("Content-Transfer-Encoding: base64\r\n")
	builder.WriteString("\r\n")
	builder.WriteString(base64.StdEncoding.EncodeToString(attachment))
	builder.WriteString("\r\n")

	builder.WriteString("--" + boundary + "--\r\n")
	return builder.String()
}

func testTLSConfig(t *testing.T) *tls.Config {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		t.Fatalf("generate serial: %v", err)
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: "localhost",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}

	cert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"imap"},
	}
}
