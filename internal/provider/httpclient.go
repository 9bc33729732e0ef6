package provider

import (
	"net"
	"net/http"
	"sync"
	"time"
)

var (
	sharedOnce   sync.Once
	sharedClient *http.Client
)

// SharedHTTPClient returns the process-wide pooled client used by every
// HTTP provider. The timeout of the first call wins.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	sharedOnce.Do(func() {
		sharedClient = NewHTTPClient(timeout)
	})
	return sharedClient
}

// NewHTTPClient builds a client with connection pooling tuned for a small
// number of API hosts.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
