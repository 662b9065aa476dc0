package provision

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Account code prefixes by role. Codes are human-legible, not globally
// unique by construction; collision surfaces as a store conflict, never from
// the generator itself.
const (
	codePrefixBuyer    = "BYR"
	codePrefixSupplier = "SUP"
	codePrefixAdmin    = "ADM"
	codePrefixDefault  = "USR"
)

const codeDigits = "0123456789"

// GenerateAccountCode produces a short role-prefixed account code such as
// SUP-M2K9QJ-4821. The middle segment is the current millisecond timestamp in
// base36; the tail is random so two registrations in the same millisecond
// still diverge.
func GenerateAccountCode(role ProfileRole) string {
	prefix := codePrefixDefault
	switch role {
	case RoleBuyer:
		prefix = codePrefixBuyer
	case RoleSupplier:
		prefix = codePrefixSupplier
	case RoleAdmin:
		prefix = codePrefixAdmin
	}

	stamp := strings.ToUpper(strconv.FormatInt(time.Now().UnixMilli(), 36))

	return fmt.Sprintf("%s-%s-%s", prefix, stamp, randomDigits(4))
}

// GenerateVerificationCode produces a six-digit numeric email code.
func GenerateVerificationCode() string {
	return randomDigits(6)
}

func randomDigits(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure means the platform entropy source is broken;
		// fall back to the clock rather than return a constant.
		nano := time.Now().UnixNano()
		for i := range buf {
			buf[i] = byte(nano >> (8 * (i % 8)))
		}
	}

	out := make([]byte, n)
	for i, b := range buf {
		out[i] = codeDigits[int(b)%len(codeDigits)]
	}
	return string(out)
}
