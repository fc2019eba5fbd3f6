// Package initdata obtains the opaque per-session credential the trusted
// host wrapper hands to the application. The credential is forwarded to the
// API verbatim and never parsed or validated here.
package initdata

import (
	"os"
	"strings"
)

// EnvVar is the environment variable the host wrapper exports.
const EnvVar = "DEERZONE_INIT_DATA"

// Provider yields the session credential. An empty string is a valid,
// expected state meaning "not running inside the trusted host": browsing
// works, voting is refused locally.
type Provider interface {
	Credential() string
}

// Static is a fixed credential, mainly for tests.
type Static string

func (s Static) Credential() string { return string(s) }

type envProvider struct {
	value string
}

func (p envProvider) Credential() string { return p.value }

// FromEnv reads the credential once: the environment variable first, then
// the optional file path (the wrapper writes it there on platforms where it
// cannot touch the environment). The value is immutable for the session.
func FromEnv(filePath string) Provider {
	if v := strings.TrimSpace(os.Getenv(EnvVar)); v != "" {
		return envProvider{value: v}
	}
	if filePath != "" {
		if data, err := os.ReadFile(filePath); err == nil {
			return envProvider{value: strings.TrimSpace(string(data))}
		}
	}
	return envProvider{}
}
