package answer

import (
	"crypto/tls"
	"log"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// NewHTTPClient builds the transport used for model requests.
func NewHTTPClient(enableHTTP2 bool, timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if enableHTTP2 {
		if err := http2.ConfigureTransport(tr); err != nil {
			log.Printf("answer: http2 unavailable, using HTTP/1.1: %v", err)
		}
	} else {
		// A non-nil empty map disables the automatic h2 upgrade.
		tr.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}
	return &http.Client{Transport: tr, Timeout: timeout}
}
