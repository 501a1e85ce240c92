package httpserver

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaults(t *testing.T) {
	s := New(":0", http.NotFoundHandler())
	assert.Equal(t, ":0", s.Addr)
	assert.Equal(t, 5*time.Second, s.ReadHeaderTimeout)
	assert.Equal(t, 30*time.Second, s.ReadTimeout)
	assert.Equal(t, 60*time.Second, s.WriteTimeout)
}

func TestWithTimeouts(t *testing.T) {
	s := New(":0", http.NotFoundHandler(), WithTimeouts(2*time.Minute, 0))
	assert.Equal(t, 2*time.Minute, s.ReadTimeout)
	assert.Equal(t, 60*time.Second, s.WriteTimeout, "zero keeps the default")
}
