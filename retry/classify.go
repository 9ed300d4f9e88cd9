package retry

import (
	"errors"
	"net"
	"strings"
)

// Classifier reports whether an error is worth retrying.
type Classifier func(error) bool

// transientFragments are matched case-insensitively against error text when
// no explicit classification wrapper is present. They cover the failure
// modes LLM providers and flaky transports commonly surface as strings.
var transientFragments = []string{
	"timeout",
	"connection reset",
	"connection refused",
	"temporary failure",
	"service unavailable",
	"rate limit",
	"too many requests",
	"server error",
	"internal error",
	"network is unreachable",
	"502",
	"503",
	"504",
	"throttled",
	"quota exceeded",
}

// DefaultClassifier retries errors explicitly wrapped as transient, net
// timeouts, and errors whose text matches a known transient fragment. An
// explicit fatal wrapper anywhere in the chain wins over everything else.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}
	if IsFatal(err) {
		return false
	}
	if IsTransient(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range transientFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
