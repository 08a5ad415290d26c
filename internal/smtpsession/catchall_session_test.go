package smtpsession

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckCatchAllConfirmsOnTwoAccepts(t *testing.T) {
	client, server := net.Pipe()
	fakeServer(t, server, "220 mx.example.com ESMTP", map[string]string{
		"EHLO":      "250 OK",
		"MAIL FROM": "250 OK",
		"RCPT TO":   "250 2.1.5 OK",
	})

	cfg := Config{HeloName: "validator.example.com", MailFrom: "probe@validator.example.com", Timeout: 2 * time.Second, Dial: pipeDialer(client)}
	catchAll, outcome := CheckCatchAll(context.Background(), cfg, "mx.example.com", 25, "example.com", "probe1abc", "probe2def")

	assert.True(t, catchAll, "expected catch-all confirmed, outcome=%+v", outcome)
}

func TestCheckCatchAllRejectsOnFirstBounce(t *testing.T) {
	client, server := net.Pipe()
	fakeServer(t, server, "220 mx.example.com ESMTP", map[string]string{
		"EHLO":      "250 OK",
		"MAIL FROM": "250 OK",
		"RCPT TO":   "550 5.1.1 User unknown",
	})

	cfg := Config{HeloName: "validator.example.com", MailFrom: "probe@validator.example.com", Timeout: 2 * time.Second, Dial: pipeDialer(client)}
	catchAll, _ := CheckCatchAll(context.Background(), cfg, "mx.example.com", 25, "example.com", "probe1abc", "probe2def")

	assert.False(t, catchAll, "expected catch-all not confirmed on a bounce")
}
