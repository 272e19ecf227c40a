package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// Retryable is implemented by errors that know whether repeating the call
// can help, such as HTTP errors carrying a status code.
type Retryable interface {
	Retryable() bool
}

var transientMessages = []string{
	"connection reset by peer",
	"broken pipe",
	"i/o timeout",
	"tls handshake timeout",
	"server closed idle connection",
	"temporary failure in name resolution",
	"unexpected eof",
}

// IsTransient reports whether err is worth retrying. An error in the chain
// implementing Retryable decides; otherwise network timeouts, refused or
// reset connections and a few well-known transport messages count.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
