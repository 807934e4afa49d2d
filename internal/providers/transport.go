package providers

import (
	"net"
	"net/http"
	"time"
)

// Default gateway timeouts.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 300 * time.Second
	DefaultMaxRetries     = 7
)

// CallOptions tune a gateway for one invocation.
type CallOptions struct {
	MaxRetries     int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

func (o CallOptions) withDefaults() CallOptions {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	return o
}

// newHTTPClient builds a client whose dialer enforces the connect timeout
// and whose transport enforces the read timeout on response headers.
func newHTTPClient(connectTimeout, readTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = connectTimeout
	transport.ResponseHeaderTimeout = readTimeout
	return &http.Client{Transport: transport}
}
