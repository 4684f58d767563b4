package ldap

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// TLSMode selects how the transport is protected.
type TLSMode int

const (
	TLSModeNone     TLSMode = iota // Plain LDAP
	TLSModeStartTLS                // Plain socket upgraded with the StartTLS extended operation
	TLSModeDirect                  // TLS from the first byte (LDAPS)
)

// String returns string representation of the TLS mode.
func (m TLSMode) String() string {
	switch m {
	case TLSModeNone:
		return "none"
	case TLSModeStartTLS:
		return "starttls"
	case TLSModeDirect:
		return "ldaps"
	default:
		return "unknown"
	}
}

// ParseTLSMode parses a TLS mode name.
func ParseTLSMode(s string) (TLSMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "plain":
		return TLSModeNone, nil
	case "starttls":
		return TLSModeStartTLS, nil
	case "ldaps", "ssl", "tls":
		return TLSModeDirect, nil
	default:
		return TLSModeNone, fmt.Errorf("unknown TLS mode %q", s)
	}
}

// SASL property names accepted in ConnectionOptions.SASLProperties.
const (
	SASLPropertyAuthID    = "authid"
	SASLPropertyAuthzID   = "authzid"
	SASLPropertyRealm     = "realm"
	SASLPropertyQOP       = "qop"
	SASLPropertyDigestURI = "digest-uri"
	SASLPropertyKeytab    = "keytab"
	SASLPropertyCCache    = "ccache"
	SASLPropertyKrb5Conf  = "krb5conf"
	SASLPropertySPN       = "spn"
)

// ConnectionOptions holds configuration for a single connection. It must not
// be modified once Open has been called.
type ConnectionOptions struct {
	// Server settings
	Host           string        `validate:"required"`
	Port           int           `default:"389" validate:"min=1,max=65535"`
	Version        int           `default:"3"`
	ConnectTimeout time.Duration `default:"30s"`

	// TLS settings
	TLSMode        TLSMode
	Trust          TrustStrategy `validate:"-"`
	ClientCertFile string        `validate:"required_with=ClientKeyFile"`
	ClientKeyFile  string        `validate:"required_with=ClientCertFile"`

	// Authentication settings
	BindDN         string
	BindPassword   string
	SASLMechanism  string
	SASLProperties map[string]string

	// Bind request controls
	ReportAuthzID            bool
	UsePasswordPolicyControl bool
}

var validate = validator.New()

// DefaultConnectionOptions returns options with defaults applied.
func DefaultConnectionOptions() *ConnectionOptions {
	opts := &ConnectionOptions{}
	// Only fails for unsupported field types, which ConnectionOptions has none of.
	_ = defaults.Set(opts)
	opts.Trust = TrustSystem{}
	return opts
}

// Address returns the host:port dial address.
func (o *ConnectionOptions) Address() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// UsesTLS reports whether the transport will be TLS protected.
func (o *ConnectionOptions) UsesTLS() bool {
	return o.TLSMode == TLSModeStartTLS || o.TLSMode == TLSModeDirect
}

// AuthMethod returns the bind strategy selected by the options. Precedence is
// SASL EXTERNAL, then any other SASL mechanism, then simple, then anonymous.
func (o *ConnectionOptions) AuthMethod() AuthMethod {
	mech := strings.ToUpper(o.SASLMechanism)
	switch {
	case mech == MechanismExternal:
		return AuthMethodExternal
	case mech != "":
		return AuthMethodSASL
	case o.BindDN != "":
		return AuthMethodSimpleBind
	default:
		return AuthMethodAnonymous
	}
}

// Validate checks the options before any network I/O. Every error is a *ParamError.
func (o *ConnectionOptions) Validate() error {
	if o == nil {
		return NewParamError("options", "connection options are required")
	}

	if err := validate.Struct(o); err != nil {
		return NewParamError("options", fmt.Sprintf("invalid connection options: %v", err))
	}

	if o.Version != 2 && o.Version != 3 {
		return NewParamError("version", fmt.Sprintf("invalid LDAP protocol version %d: must be 2 or 3", o.Version))
	}

	if o.TLSMode < TLSModeNone || o.TLSMode > TLSModeDirect {
		return NewParamError("tls_mode", fmt.Sprintf("invalid TLS mode %d", o.TLSMode))
	}

	return ValidateAuthentication(o)
}

// AuthMethod defines authentication method types.
type AuthMethod int

const (
	AuthMethodAnonymous  AuthMethod = iota // No bind request is sent
	AuthMethodSimpleBind                   // DN/password authentication
	AuthMethodSASL                         // Named SASL mechanism
	AuthMethodExternal                     // SASL EXTERNAL with a client certificate
)

// String returns string representation of authentication method.
func (a AuthMethod) String() string {
	switch a {
	case AuthMethodAnonymous:
		return "anonymous"
	case AuthMethodSimpleBind:
		return "simple"
	case AuthMethodSASL:
		return "sasl"
	case AuthMethodExternal:
		return "external"
	default:
		return "unknown"
	}
}
