package odoo

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/kolo/xmlrpc"
	"github.com/rotisserie/eris"
)

// ErrAuthentication is returned when Odoo rejects the credentials.
var ErrAuthentication = eris.New("odoo: authentication failed")

var (
	badStatusRx = regexp.MustCompile(`bad status code - (\d+)`)
	faultRx     = regexp.MustCompile(`(?s)Fault\((-?\d+)\): (.*)`)
)

// transientFaults are fault strings raised by Odoo for conflicts that clear
// on retry.
var transientFaults = []string{
	"could not serialize access",
	"concurrent update",
	"transactionrollbackerror",
	"deadlock detected",
	"lock not available",
}

// Fault returns the XML-RPC fault carried by err. net/rpc flattens server
// errors to strings, so the fault is recovered from the message.
func Fault(err error) (xmlrpc.FaultError, bool) {
	if err == nil {
		return xmlrpc.FaultError{}, false
	}
	m := faultRx.FindStringSubmatch(err.Error())
	if m == nil {
		return xmlrpc.FaultError{}, false
	}
	code, _ := strconv.Atoi(m[1])
	return xmlrpc.FaultError{Code: code, String: m[2]}, true
}

// StatusCode extracts the HTTP status of a rejected request, or 0.
func StatusCode(err error) int {
	if err == nil {
		return 0
	}
	m := badStatusRx.FindStringSubmatch(err.Error())
	if m == nil {
		return 0
	}
	code, _ := strconv.Atoi(m[1])
	return code
}

// Retryable reports whether err may succeed when the call is repeated:
// timeouts, connection failures, throttling, gateway errors and database
// serialization faults.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrAuthentication) {
		return false
	}
	if f, ok := Fault(err); ok {
		msg := strings.ToLower(f.String)
		for _, s := range transientFaults {
			if strings.Contains(msg, s) {
				return true
			}
		}
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch StatusCode(err) {
	case 0:
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
