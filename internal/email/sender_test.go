package email

import (
	"bufio"
	"bytes"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSMTP accepts one message per connection and records it.
type fakeSMTP struct {
	ln net.Listener

	mu   sync.Mutex
	from string
	rcpt []string
	data string
	done chan struct{}
}

func startFakeSMTP(t *testing.T) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeSMTP{ln: ln, done: make(chan struct{})}
	t.Cleanup(func() { _ = ln.Close() })
	go f.serve()
	return f
}

func (f *fakeSMTP) serve() {
	conn, err := f.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	defer close(f.done)

	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 fake ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
		switch cmd {
		case "EHLO", "HELO":
			_ = tp.PrintfLine("250 fake")
		case "MAIL":
			f.mu.Lock()
			f.from = line
			f.mu.Unlock()
			_ = tp.PrintfLine("250 ok")
		case "RCPT":
			f.mu.Lock()
			f.rcpt = append(f.rcpt, line)
			f.mu.Unlock()
			_ = tp.PrintfLine("250 ok")
		case "DATA":
			_ = tp.PrintfLine("354 go ahead")
			b, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			f.mu.Lock()
			f.data = string(b)
			f.mu.Unlock()
			_ = tp.PrintfLine("250 queued")
		case "QUIT":
			_ = tp.PrintfLine("221 bye")
			return
		default:
			_ = tp.PrintfLine("250 ok")
		}
	}
}

func TestNewSMTPSenderDefaults(t *testing.T) {
	s := NewSMTPSender("", "")
	assert.Equal(t, "localhost:1025", s.Addr)
	assert.Equal(t, "no-reply@scriptmarket.local", s.From)
}

func TestStdoutSender(t *testing.T) {
	var buf bytes.Buffer
	s := StdoutSender{Logger: zerolog.New(&buf)}
	require.NoError(t, s.Send("user@example.com", "Your receipt", "<p>Thanks</p>"))
	assert.Contains(t, buf.String(), `"to":"user@example.com"`)
	assert.Contains(t, buf.String(), `"subject":"Your receipt"`)
}

func TestSMTPSenderDelivers(t *testing.T) {
	srv := startFakeSMTP(t)
	s := NewSMTPSender(srv.ln.Addr().String(), "shop@example.com")

	require.NoError(t, s.Send(" buyer@example.com ", "Your receipt", "<p>Thanks</p>"))
	<-srv.done

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Contains(t, srv.from, "<shop@example.com>")
	require.Len(t, srv.rcpt, 1)
	assert.Contains(t, srv.rcpt[0], "<buyer@example.com>")

	msg, err := textproto.NewReader(bufio.NewReader(strings.NewReader(srv.data))).ReadMIMEHeader()
	require.NoError(t, err)
	assert.Contains(t, msg.Get("To"), "buyer@example.com")
	assert.Contains(t, msg.Get("From"), "shop@example.com")
	assert.Equal(t, "Your receipt", msg.Get("Subject"))
	assert.Contains(t, msg.Get("Content-Type"), "text/html")
	assert.Contains(t, srv.data, "Thanks")
}

func TestSMTPSenderRejects(t *testing.T) {
	s := NewSMTPSender("127.0.0.1:1", "shop@example.com")

	assert.ErrorContains(t, s.Send("", "subj", "body"), "empty recipient")
	assert.ErrorContains(t, s.Send("a@example.com", "hi\r\nBcc: evil@example.com", "body"), "newline")
	assert.ErrorContains(t, s.Send("a@example.com\nBcc: evil@example.com", "hi", "body"), "newline")
}

func TestSMTPSenderBadAddr(t *testing.T) {
	err := NewSMTPSender("no-port", "shop@example.com").Send("a@example.com", "hi", "body")
	assert.ErrorContains(t, err, "smtp addr")
}

func TestSMTPSenderUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	err = NewSMTPSender(addr, "shop@example.com").Send("a@example.com", "hi", "body")
	assert.ErrorContains(t, err, "send mail to a@example.com")
}
