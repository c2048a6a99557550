// Package util provides small helpers shared across the auth bridge,
// currently the proxy-aware HTTP client construction.
package util

import (
	"context"
	"net"
	"net/http"
	"net/url"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"

	"github.com/mathhhys/softcodes-vsc/internal/config"
)

// NewHTTPClient builds the HTTP client used for every backend call. The
// per-request timeout comes from the configuration so a hung network call is
// treated identically to a network failure, and outbound requests honor the
// configured SOCKS5/HTTP/HTTPS proxy when one is set.
func NewHTTPClient(cfg *config.Config) *http.Client {
	client := &http.Client{Timeout: cfg.RequestTimeout()}
	if cfg.ProxyURL == "" {
		return client
	}

	proxyURL, err := url.Parse(cfg.ProxyURL)
	if err != nil {
		log.Errorf("invalid proxy URL %q: %v", cfg.ProxyURL, err)
		return client
	}

	var transport *http.Transport
	switch proxyURL.Scheme {
	case "socks5":
		var proxyAuth *proxy.Auth
		if proxyURL.User != nil {
			password, _ := proxyURL.User.Password()
			proxyAuth = &proxy.Auth{User: proxyURL.User.Username(), Password: password}
		}
		dialer, errSOCKS5 := proxy.SOCKS5("tcp", proxyURL.Host, proxyAuth, proxy.Direct)
		if errSOCKS5 != nil {
			log.Errorf("create SOCKS5 dialer failed: %v", errSOCKS5)
			return client
		}
		transport = &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			},
		}
	case "http", "https":
		transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	default:
		log.Errorf("unsupported proxy scheme %q", proxyURL.Scheme)
	}

	if transport != nil {
		client.Transport = transport
	}
	return client
}
