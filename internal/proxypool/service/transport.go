package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"

	pooldomain "github.com/creditrelay/creditrelay/internal/proxypool/domain"
	"golang.org/x/net/proxy"
	"h12.io/socks"
)

// BuildTransport returns an http.Transport that routes through the proxy.
// Unknown protocols are treated as https.
func BuildTransport(p *pooldomain.Proxy) (*http.Transport, error) {
	if p == nil {
		return nil, pooldomain.ErrInvalidProxy
	}

	switch pooldomain.NormalizeProtocol(p.Protocol) {
	case pooldomain.ProtocolSOCKS5:
		return buildSOCKS5Transport(p)
	case pooldomain.ProtocolSOCKS4:
		return buildSOCKS4Transport(p)
	default:
		return buildHTTPTransport(p)
	}
}

func buildHTTPTransport(p *pooldomain.Proxy) (*http.Transport, error) {
	scheme := pooldomain.NormalizeProtocol(p.Protocol)
	if scheme != pooldomain.ProtocolHTTP {
		scheme = pooldomain.ProtocolHTTPS
	}
	proxyURL := &url.URL{
		Scheme: scheme,
		Host:   p.Addr(),
	}
	if p.Username != nil && *p.Username != "" {
		if p.Password != nil {
			proxyURL.User = url.UserPassword(*p.Username, *p.Password)
		} else {
			proxyURL.User = url.User(*p.Username)
		}
	}
	return &http.Transport{
		Proxy:             http.ProxyURL(proxyURL),
		ForceAttemptHTTP2: true,
	}, nil
}

func buildSOCKS5Transport(p *pooldomain.Proxy) (*http.Transport, error) {
	var auth *proxy.Auth
	if p.Username != nil && *p.Username != "" {
		auth = &proxy.Auth{User: *p.Username}
		if p.Password != nil {
			auth.Password = *p.Password
		}
	}
	dialer, err := proxy.SOCKS5("tcp", p.Addr(), auth, proxy.Direct)
	if err != nil {
		return nil, err
	}
	transport := &http.Transport{}
	if ctxDialer, ok := dialer.(proxy.ContextDialer); ok {
		transport.DialContext = ctxDialer.DialContext
	} else {
		transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	}
	return transport, nil
}

func buildSOCKS4Transport(p *pooldomain.Proxy) (*http.Transport, error) {
	uri := fmt.Sprintf("socks4://%s?timeout=10s", p.Addr())
	dial := socks.Dial(uri)
	return &http.Transport{
		DialContext: func(_ context.Context, network, addr string) (net.Conn, error) {
			return dial(network, addr)
		},
	}, nil
}

// isRetryableNetErr reports whether an upstream call failure looks like a
// proxy-side network problem worth one direct retry. Application-level errors
// (TLS, HTTP status handling, context cancellation) are not retryable.
func isRetryableNetErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"host is unreachable",
		"i/o timeout",
		"proxyconnect",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
