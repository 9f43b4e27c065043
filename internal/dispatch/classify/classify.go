// Package classify maps raw task failures to a fixed set of categories
// used by gateway health tracking.
package classify

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Category is the classification of a task failure.
type Category string

const (
	CategoryProxy   Category = "proxy_error"
	CategoryGateway Category = "gateway_error"
	CategoryTimeout Category = "timeout"
	CategoryNetwork Category = "network_error"
)

func (c Category) String() string {
	return string(c)
}

// RemoteError carries the structured detail of a failed remote call when the
// task body can provide it. Classification falls back to message patterns
// when only a plain error is available.
type RemoteError struct {
	Status  int    // HTTP status, 0 if not applicable
	Code    string // transport-level error code, e.g. "ETIMEDOUT"
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

var timeoutCodes = map[string]bool{
	"ETIMEDOUT":       true,
	"ESOCKETTIMEDOUT": true,
	"ECONNABORTED":    true,
}

var networkCodes = map[string]bool{
	"ECONNRESET":   true,
	"ECONNREFUSED": true,
	"ENOTFOUND":    true,
	"EHOSTUNREACH": true,
	"ENETUNREACH":  true,
	"EPIPE":        true,
}

var timeoutPatterns = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
}

var proxyPatterns = []string{
	"proxy",
	"tunnel",
	"socks",
}

var networkPatterns = []string{
	"connection reset",
	"connection refused",
	"no such host",
	"network is unreachable",
	"broken pipe",
	"eof",
}

// Classify maps err to a failure category. It never fails; anything it does
// not recognize lands in CategoryNetwork. Priority order matters: a proxy
// timeout must classify as timeout, and proxy errors must be distinguished
// before the generic network bucket absorbs them.
func Classify(err error) Category {
	if err == nil {
		return CategoryNetwork
	}

	var remote *RemoteError
	hasRemote := errors.As(err, &remote)

	msg := strings.ToLower(err.Error())

	// 1. Timeout
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTimeout
	}
	if hasRemote && timeoutCodes[remote.Code] {
		return CategoryTimeout
	}
	if matchesAny(msg, timeoutPatterns) {
		return CategoryTimeout
	}

	// 2. Proxy
	if hasRemote && (remote.Status == 407 || remote.Code == "EPROXYAUTH") {
		return CategoryProxy
	}
	if matchesAny(msg, proxyPatterns) {
		return CategoryProxy
	}

	// 3. Gateway (server-side 5xx)
	if hasRemote && remote.Status >= 500 && remote.Status < 600 {
		return CategoryGateway
	}

	// 4. Known network conditions
	if hasRemote && networkCodes[remote.Code] {
		return CategoryNetwork
	}
	if matchesAny(msg, networkPatterns) {
		return CategoryNetwork
	}

	// 5. Default
	return CategoryNetwork
}

func matchesAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
