// Package httpserver builds the http.Server both binaries listen with.
package httpserver

import (
	"net/http"
	"time"
)

type Option func(*http.Server)

// WithTimeouts overrides the read and write timeouts. Image uploads from slow
// cameras need a longer read window than JSON calls.
func WithTimeouts(read, write time.Duration) Option {
	return func(s *http.Server) {
		if read > 0 {
			s.ReadTimeout = read
		}
		if write > 0 {
			s.WriteTimeout = write
		}
	}
}

// New builds a server with header, body and idle timeouts set.
func New(addr string, handler http.Handler, opts ...Option) *http.Server {
	s := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
