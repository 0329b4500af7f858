package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("claude overloaded"), 529), true},
		{"wrapped", eris.Wrap(NewTransientError(errors.New("odoo throttled"), 429), "erp: create move"), true},
		{"plain", errors.New("extract: vendor missing"), false},
		{"econnreset", fmt.Errorf("write tcp: %w", syscall.ECONNRESET), true},
		{"econnrefused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), true},
		{"net timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"serialization fault", errors.New("ERROR: could not serialize access due to concurrent update"), true},
		{"tls", errors.New("net/http: TLS handshake timeout"), true},
		{"eof", errors.New("xmlrpc: unexpected EOF"), true},
		{"permanent wins", NewPermanentError(NewTransientError(errors.New("fault after create"), 503)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504, 529} {
		assert.True(t, IsTransientHTTPStatus(code), "HTTP %d", code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 409, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "HTTP %d", code)
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	te := NewTransientError(inner, 500)

	assert.ErrorIs(t, te, inner)
	assert.Equal(t, 500, te.StatusCode)
	assert.Equal(t, "root cause", te.Error())
}

func TestPermanentError_ClassifiesPermanent(t *testing.T) {
	inner := errors.New("move rejected")
	err := NewPermanentError(NewTransientError(inner, 503))

	assert.ErrorIs(t, err, inner)
	assert.Equal(t, Permanent, Classify(err, nil))
}
