package entitlement

import (
	"crypto/subtle"
	"strings"
)

// AuthorizeWebhook verifies the shared-secret authorization of a billing
// relay delivery. The header may carry the raw secret or a case-insensitive
// "Bearer " prefix; surrounding whitespace is ignored. A missing header or
// an unconfigured secret is rejected (the handler maps the latter to a 500,
// it is a server misconfiguration rather than a caller error).
func AuthorizeWebhook(headerValue, secret string) bool {
	token := strings.TrimSpace(headerValue)
	if len(token) >= 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	secret = strings.TrimSpace(secret)
	if token == "" || secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}
