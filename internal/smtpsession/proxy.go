package smtpsession

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/proxy"
)

// ProxyConfig describes an optional SOCKS5 proxy the session runner
// dials through instead of connecting directly, mirroring the
// teacher's IP-protection feature.
type ProxyConfig struct {
	Address  string
	Username string
	Password string
}

// NewDialer returns a Dialer that connects through cfg when non-nil
// and cfg.Address is set, or DefaultDialer otherwise.
func NewDialer(cfg *ProxyConfig) Dialer {
	if cfg == nil || cfg.Address == "" {
		return DefaultDialer
	}

	var auth *proxy.Auth
	if cfg.Username != "" {
		auth = &proxy.Auth{User: cfg.Username, Password: cfg.Password}
	}

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialer, err := proxy.SOCKS5(network, cfg.Address, auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("create SOCKS5 dialer: %w", err)
		}
		contextDialer, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return dialer.Dial(network, addr)
		}
		return contextDialer.DialContext(ctx, network, addr)
	}
}
