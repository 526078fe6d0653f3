package webhook

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/agentcoord/kernel/internal/kernelerr"
)

// blockedHostPrefixes are the literal/prefix host patterns a webhook URL must not
// match, preventing registration of a callback that targets the
// kernel's own host or other link-local/private ranges.
var blockedHostPrefixes = []string{
	"localhost",
	"127.",
	"::1",
	"10.",
	"192.168.",
	"169.254.",
	"0.0.0.0",
}

// ValidateURL enforces the webhook URL constraints: must be https, and the
// host must not be localhost or a literal private/link-local address. Only
// the host string is checked; DNS names are not resolved.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return kernelerr.Validation("invalid webhook url: %v", err)
	}
	if u.Scheme != "https" {
		return kernelerr.Validation("webhook url must use https")
	}

	host := u.Hostname()
	for _, prefix := range blockedHostPrefixes {
		if strings.HasPrefix(host, prefix) {
			return kernelerr.Validation("webhook url must not target a local or private host")
		}
	}
	if strings.HasPrefix(host, "172.") {
		parts := strings.SplitN(host, ".", 3)
		if len(parts) >= 2 {
			if n, err := strconv.Atoi(parts[1]); err == nil && n >= 16 && n <= 31 {
				return kernelerr.Validation("webhook url must not target a local or private host")
			}
		}
	}

	return nil
}
