package abdm

import "fmt"

// Environment selects which ABDM deployment a client talks to. The public
// key used for field encryption is always fetched from the same environment
// as the request it protects; a Client is bound to one Environment at
// construction so the two cannot drift apart.
type Environment string

const (
	Sandbox    Environment = "sandbox"
	Production Environment = "production"
)

// Mandatory gateway request headers.
const (
	HeaderRequestID   = "REQUEST-ID"
	HeaderTimestamp   = "TIMESTAMP"
	HeaderEnvironment = "X-ABDM-ENV"
)

// ParseEnvironment validates an environment discriminator string.
func ParseEnvironment(s string) (Environment, error) {
	switch Environment(s) {
	case Sandbox, Production:
		return Environment(s), nil
	}
	return "", fmt.Errorf("abdm: environment must be %q or %q, got %q", Sandbox, Production, s)
}

// DefaultBaseURL returns the gateway base URL for the environment.
func (e Environment) DefaultBaseURL() string {
	if e == Production {
		return "https://abha.abdm.gov.in/abha/api"
	}
	return "https://abhasbx.abdm.gov.in/abha/api"
}

// DefaultSessionURL returns the client-credentials session endpoint.
func (e Environment) DefaultSessionURL() string {
	if e == Production {
		return "https://live.abdm.gov.in/gateway/v0.5/sessions"
	}
	return "https://dev.abdm.gov.in/gateway/v0.5/sessions"
}
