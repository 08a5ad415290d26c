// Package smtpsession runs a single SMTP RCPT dialog against one
// host:port, producing a full wire transcript and a classified
// outcome. It never panics into its caller; every failure mode is
// folded into a verdict.SessionOutcome.
package smtpsession

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"mailprobe/internal/classify"
	"mailprobe/internal/verdict"
)

// Dialer opens a TCP connection to addr, honoring ctx cancellation.
// Production code plugs in a SOCKS5-aware dialer (see proxy.go); tests
// plug in net.Pipe-backed fakes.
type Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

// DefaultDialer dials directly, with no proxy.
func DefaultDialer(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, addr)
}

// Config holds the session runner's identity and timeout settings.
type Config struct {
	HeloName string
	MailFrom string
	Timeout  time.Duration
	Dial     Dialer
}

// implicitTLSPort reports whether port uses TLS before any SMTP data.
// Only 465 is attempted; 2465 is a documented open question the
// teacher's deployment never exercises (see SPEC_FULL.md §9).
func implicitTLSPort(port int) bool {
	return port == 465
}

// RunSession walks greeting -> EHLO -> optional STARTTLS -> EHLO ->
// MAIL FROM -> RCPT TO against host:port for target, and returns the
// classified outcome with a full transcript.
func RunSession(ctx context.Context, cfg Config, host string, port int, target string) verdict.SessionOutcome {
	start := time.Now()
	s, failOutcome := dial(ctx, cfg, host, port, start)
	if s == nil {
		return failOutcome
	}
	defer s.close()
	return s.run(target, start)
}

// CheckCatchAll opens one session against host:port and issues RCPT
// TO for two independent synthetic local-parts at domain, confirming
// a catch-all verdict only when both are classified Valid. Running
// both probes inside the same session guards against a single flaky
// accept being mistaken for a true catch-all policy.
func CheckCatchAll(ctx context.Context, cfg Config, host string, port int, domain string, firstToken, secondToken string) (bool, verdict.SessionOutcome) {
	start := time.Now()
	s, failOutcome := dial(ctx, cfg, host, port, start)
	if s == nil {
		return false, failOutcome
	}
	defer s.close()

	if err := s.preamble(); err != nil {
		return false, s.classifyPreambleError(start, err)
	}

	if _, err := s.command("MAIL FROM:<" + s.cfg.MailFrom + ">"); err != nil {
		return false, s.ioFailure(start, err)
	}

	first := s.rcptOutcome(firstToken+"@"+domain, start)
	if first.Status != verdict.StatusValid {
		return false, first
	}
	second := s.rcptOutcome(secondToken+"@"+domain, start)
	return second.Status == verdict.StatusValid, second
}

// dial opens the TCP connection and wires up the cancellation
// watcher; it does not run any SMTP protocol. On failure it returns a
// nil session and a ready-to-return failure outcome.
func dial(ctx context.Context, cfg Config, host string, port int, start time.Time) (*session, verdict.SessionOutcome) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	dctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	rawConn, err := cfg.Dial(dctx, "tcp", addr)
	if err != nil {
		tag := "ConnectFailed"
		if isDNSError(err) {
			tag = "DNSResolutionFailed"
		}
		return nil, failure(verdict.StatusUnknownFailure, tag, host, port, false, start, nil,
			fmt.Errorf("dial %s: %w", addr, err))
	}

	closed := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			rawConn.Close()
		case <-closed:
		}
	}()

	return &session{
		conn:       rawConn,
		reader:     bufio.NewReader(rawConn),
		cfg:        cfg,
		host:       host,
		port:       port,
		closeWatch: closed,
	}, verdict.SessionOutcome{}
}

func (s *session) close() {
	close(s.closeWatch)
	s.conn.Close()
}

type session struct {
	conn       net.Conn
	reader     *bufio.Reader
	cfg        Config
	host       string
	port       int
	transcript []verdict.TranscriptLine
	tlsActive  bool
	closeWatch chan struct{}
}

// tlsHandshakeError distinguishes a failed TLS upgrade, which
// classifies as TemporaryFailure, from any other IO error.
type tlsHandshakeError struct{ err error }

func (e *tlsHandshakeError) Error() string { return e.err.Error() }
func (e *tlsHandshakeError) Unwrap() error { return e.err }

func (s *session) run(target string, start time.Time) verdict.SessionOutcome {
	if err := s.preamble(); err != nil {
		return s.classifyPreambleError(start, err)
	}

	if _, err := s.command("MAIL FROM:<" + s.cfg.MailFrom + ">"); err != nil {
		return s.ioFailure(start, err)
	}

	return s.rcptOutcome(target, start)
}

// preamble runs greeting -> EHLO -> optional STARTTLS -> EHLO,
// leaving the session ready for MAIL FROM. Shared by RunSession and
// CheckCatchAll so a catch-all confirmation pass reuses one
// connection instead of opening two.
func (s *session) preamble() error {
	implicit := implicitTLSPort(s.port)

	if implicit {
		if err := s.upgradeTLS(); err != nil {
			return &tlsHandshakeError{err}
		}
		s.tlsActive = true
		s.record("<<", "implicit TLS channel established")
	}

	if _, err := s.readReply("greeting"); err != nil {
		return err
	}

	ehlo, err := s.command("EHLO " + s.cfg.HeloName)
	if err != nil {
		return err
	}

	if !implicit && strings.Contains(strings.ToUpper(ehlo.Text), "STARTTLS") {
		if _, err := s.command("STARTTLS"); err != nil {
			return err
		}
		if err := s.upgradeTLS(); err != nil {
			return &tlsHandshakeError{err}
		}
		s.tlsActive = true
		s.record("<<", "TLS handshake successful")

		if _, err := s.command("EHLO " + s.cfg.HeloName); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) classifyPreambleError(start time.Time, err error) verdict.SessionOutcome {
	var tlsErr *tlsHandshakeError
	if ok := asTLSHandshakeError(err, &tlsErr); ok {
		return s.failureOutcome(verdict.StatusTemporaryFailure, "TLSHandshakeFailed", start, tlsErr.err)
	}
	return s.ioFailure(start, err)
}

func asTLSHandshakeError(err error, target **tlsHandshakeError) bool {
	for e := err; e != nil; {
		if te, ok := e.(*tlsHandshakeError); ok {
			*target = te
			return true
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}

// rcptOutcome sends RCPT TO for target and classifies the reply.
func (s *session) rcptOutcome(target string, start time.Time) verdict.SessionOutcome {
	rcpt, err := s.command("RCPT TO:<" + target + ">")
	if err != nil {
		return s.ioFailure(start, err)
	}

	status, tag := classify.Classify(rcpt.Code, rcpt.EnhancedCode, rcpt.Text)
	return verdict.SessionOutcome{
		Status:        status,
		ReplyCode:     rcpt.Code,
		ReplyText:     rcpt.Text,
		DiagnosticTag: tag,
		MailHost:      s.host,
		Port:          s.port,
		TLS:           s.tlsActive,
		Transcript:    s.transcript,
		Timestamp:     start,
	}
}

// command sends cmd followed by CRLF, records the exchange, and
// returns the parsed reply.
func (s *session) command(cmd string) (verdict.SmtpReply, error) {
	s.record(">>", cmd)
	if err := s.conn.SetDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
		return verdict.SmtpReply{Code: -1}, err
	}
	if _, err := s.conn.Write([]byte(cmd + "\r\n")); err != nil {
		return verdict.SmtpReply{Code: -1}, err
	}
	return s.readReply(cmd)
}

func (s *session) readReply(label string) (verdict.SmtpReply, error) {
	if err := s.conn.SetDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
		return verdict.SmtpReply{Code: -1}, err
	}
	reply, err := readReply(s.reader)
	if err != nil {
		return reply, fmt.Errorf("reading reply to %s: %w", label, err)
	}
	s.record("<<", reply.Text)
	return reply, nil
}

func (s *session) upgradeTLS() error {
	if err := s.conn.SetDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
		return err
	}
	tlsConn := tls.Client(s.conn, &tls.Config{ServerName: s.host})
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return err
	}
	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	return nil
}

func (s *session) record(direction, payload string) {
	s.transcript = append(s.transcript, verdict.TranscriptLine{Direction: direction, Payload: payload})
}

// ioFailure classifies a read/write error: a timeout is a transient
// TemporaryFailure, anything else is UnknownFailure.
func (s *session) ioFailure(start time.Time, err error) verdict.SessionOutcome {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return s.failureOutcome(verdict.StatusTemporaryFailure, "Timeout", start, err)
	}
	return s.failureOutcome(verdict.StatusUnknownFailure, "IOError", start, err)
}

func (s *session) failureOutcome(status verdict.RecipientStatus, tag string, start time.Time, err error) verdict.SessionOutcome {
	return verdict.SessionOutcome{
		Status:        status,
		ReplyCode:     -1,
		DiagnosticTag: tag,
		MailHost:      s.host,
		Port:          s.port,
		TLS:           s.tlsActive,
		Transcript:    s.transcript,
		Timestamp:     start,
		Err:           err.Error(),
	}
}

func failure(status verdict.RecipientStatus, tag, host string, port int, tlsActive bool, start time.Time, transcript []verdict.TranscriptLine, err error) verdict.SessionOutcome {
	return verdict.SessionOutcome{
		Status:        status,
		ReplyCode:     -1,
		DiagnosticTag: tag,
		MailHost:      host,
		Port:          port,
		TLS:           tlsActive,
		Transcript:    transcript,
		Timestamp:     start,
		Err:           err.Error(),
	}
}

func isDNSError(err error) bool {
	var dnsErr *net.DNSError
	for e := err; e != nil; {
		if de, ok := e.(*net.DNSError); ok {
			dnsErr = de
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return dnsErr != nil
}
