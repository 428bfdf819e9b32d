// Package privacy scrubs credentials, notification service tokens and
// Bluetooth addresses from text before it leaves the process.
package privacy

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	// any scheme, shoutrrr service URLs carry tokens in user info and host
	urlPattern = regexp.MustCompile(`\b[a-zA-Z][a-zA-Z0-9+.-]*://\S+`)

	macPattern = regexp.MustCompile(`(?i)([0-9a-f]{2})([:_])[0-9a-f]{2}(?:[:_][0-9a-f]{2}){4}\b`)

	secretPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(password|passwd|token|api[_-]?key)[=:]\S+`),
		regexp.MustCompile(`(?i)bearer\s+\S+`),
	}
)

// Redacted replaces removed content.
const Redacted = "[REDACTED]"

// ScrubMessage removes URL secrets, credentials and device addresses from message.
func ScrubMessage(message string) string {
	scrubbed := urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
	scrubbed = macPattern.ReplaceAllString(scrubbed, "${1}${2}[MAC_REDACTED]")
	for _, re := range secretPatterns {
		scrubbed = re.ReplaceAllString(scrubbed, Redacted)
	}
	return scrubbed
}

// AnonymizeURL keeps the host and path of web URLs and drops credentials and
// query. Any other scheme is reduced to the scheme alone since service
// tokens may sit anywhere in it.
func AnonymizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return Redacted
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return scheme + "://" + Redacted
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(u.Host)
	b.WriteString(u.EscapedPath())
	if u.RawQuery != "" || u.ForceQuery {
		b.WriteString("?" + Redacted)
	}
	return b.String()
}

// RedactMAC keeps the first octet of a Bluetooth address.
func RedactMAC(mac string) string {
	if len(mac) < 3 {
		return Redacted
	}
	return mac[:3] + "[MAC_REDACTED]"
}
