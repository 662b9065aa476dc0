package provision

import (
	"fmt"
	"sort"
	"strings"
)

// FallbackKind selects which manual-delivery text to build.
type FallbackKind string

const (
	FallbackVerificationCode FallbackKind = "verification_code"
	FallbackPasswordReset    FallbackKind = "password_reset"
	FallbackNotification     FallbackKind = "notification"
)

// ManualFallbackText renders plain-text instructions a human operator can
// deliver through an out-of-band channel when the notification gateway is
// down. It never fails; unknown kinds degrade to a generic notice.
func ManualFallbackText(kind FallbackKind, data map[string]string) string {
	var b strings.Builder

	b.WriteString("=== MANUAL DELIVERY REQUIRED ===\n")

	switch kind {
	case FallbackVerificationCode:
		b.WriteString("Automated email delivery failed for a verification code.\n")
		fmt.Fprintf(&b, "Recipient: %s", data["email"])
		if name := data["name"]; name != "" {
			fmt.Fprintf(&b, " (%s)", name)
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "Verification code: %s\n", data["code"])
		if purpose := data["purpose"]; purpose != "" {
			fmt.Fprintf(&b, "Purpose: %s\n", purpose)
		}
		b.WriteString("Ask the recipient to enter this code on the verification screen.\n")

	case FallbackPasswordReset:
		b.WriteString("Automated email delivery failed for a password reset link.\n")
		fmt.Fprintf(&b, "Recipient: %s\n", data["email"])
		fmt.Fprintf(&b, "Reset link: %s\n", data["reset_url"])
		if expiry := data["expires"]; expiry != "" {
			fmt.Fprintf(&b, "Link expires: %s\n", expiry)
		}
		b.WriteString("Share the link with the recipient through a trusted channel.\n")

	default:
		b.WriteString("Automated email delivery failed.\n")
		keys := make([]string, 0, len(data))
		for k := range data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\n", k, data[k])
		}
	}

	b.WriteString("================================")

	return b.String()
}
