package ownhttp

import (
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

var defaultTransport = &http.Transport{
	Dial: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).Dial,
	TLSHandshakeTimeout:   20 * time.Second,
	ResponseHeaderTimeout: 60 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

// New returns a new http.Client with the AddHeaderTransport (setting the User-Agent header)
func New() *http.Client {
	return &http.Client{Transport: NewAddHeaderTransport(defaultTransport)}
}

// NewThrottled returns a client like New, but rate limited to rps requests
// per second. Used for registry downloads so big dependency graphs do not
// hammer the download endpoint.
func NewThrottled(rps int) *http.Client {
	limiter := rate.NewLimiter(rate.Limit(rps), rps)
	return &http.Client{
		Transport: NewThrottleTransport(NewAddHeaderTransport(defaultTransport), limiter),
	}
}
