package ldap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// RoundTripper sends a request with a fresh message ID and returns the
// correlated response. *Connection implements it.
type RoundTripper interface {
	RoundTrip(ctx context.Context, op Request, controls []ldap.Control) (*ResponseMessage, error)
}

// BindResult is the outcome of a successful bind.
type BindResult struct {
	// ServerMessage is the diagnostic message of the final bind response.
	ServerMessage string
	Controls      []ResponseControl
	// Notices are human-readable messages derived from Controls.
	Notices []string
}

// Authenticator performs the bind selected by the connection options.
type Authenticator struct {
	opts *ConnectionOptions
}

// NewAuthenticator creates an authenticator for opts.
func NewAuthenticator(opts *ConnectionOptions) *Authenticator {
	return &Authenticator{opts: opts}
}

// ValidateAuthentication checks the authentication settings before any
// network I/O. Every error is a *ParamError.
func ValidateAuthentication(opts *ConnectionOptions) error {
	for key := range opts.SASLProperties {
		if !isSASLProperty(key) {
			return NewParamError("sasl", fmt.Sprintf("unknown SASL property %q", key))
		}
	}

	switch opts.AuthMethod() {
	case AuthMethodExternal:
		if !opts.UsesTLS() {
			return NewParamError("sasl", "SASL EXTERNAL authentication requires SSL or StartTLS")
		}
		if opts.ClientCertFile == "" {
			return NewParamError("sasl", "SASL EXTERNAL authentication requires a client certificate keystore")
		}

	case AuthMethodSASL:
		mech := strings.ToUpper(opts.SASLMechanism)
		if !IsSupportedSASLMechanism(mech) {
			return NewParamError("sasl", fmt.Sprintf("unsupported SASL mechanism %q: supported mechanisms are %s",
				opts.SASLMechanism, strings.Join(SupportedSASLMechanisms(), ", ")))
		}
		if mech == MechanismGSSAPI {
			return nil
		}
		if opts.saslProperty(SASLPropertyAuthID) == "" {
			return NewParamError("sasl", fmt.Sprintf("SASL %s authentication requires the %s property", mech, SASLPropertyAuthID))
		}
		if opts.BindPassword == "" {
			return NewParamError("password", fmt.Sprintf("SASL %s authentication requires a password", mech))
		}
		if qop := opts.saslProperty(SASLPropertyQOP); mech == MechanismDigestMD5 && qop != "" && !strings.EqualFold(qop, "auth") {
			return NewParamError("sasl", fmt.Sprintf("unsupported DIGEST-MD5 quality of protection %q: only auth is supported", qop))
		}

	case AuthMethodSimpleBind:
		if opts.BindPassword == "" {
			return NewParamError("password", "a bind password is required when a bind DN is given")
		}

	default:
		if len(opts.SASLProperties) > 0 {
			return NewParamError("sasl", "SASL properties require a SASL mechanism")
		}
	}

	return nil
}

// ParseSASLOptions parses name=value SASL options. The mech option selects
// the mechanism; every other option becomes a SASL property.
func ParseSASLOptions(options []string) (string, map[string]string, error) {
	var mechanism string
	properties := make(map[string]string)

	for _, option := range options {
		name, value, ok := strings.Cut(option, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		if !ok || name == "" {
			return "", nil, NewParamError("sasl", fmt.Sprintf("invalid SASL option %q: expected name=value", option))
		}

		if name == "mech" {
			if mechanism != "" {
				return "", nil, NewParamError("sasl", "SASL option mech may only be given once")
			}
			mechanism = strings.ToUpper(value)
			continue
		}

		if !isSASLProperty(name) {
			return "", nil, NewParamError("sasl", fmt.Sprintf("unknown SASL property %q", name))
		}
		if _, dup := properties[name]; dup {
			return "", nil, NewParamError("sasl", fmt.Sprintf("SASL property %q may only be given once", name))
		}
		properties[name] = value
	}

	if len(options) > 0 && mechanism == "" {
		return "", nil, NewParamError("sasl", "SASL option mech is required")
	}

	return mechanism, properties, nil
}

// Bind authenticates over conn. Anonymous options send no bind request.
func (a *Authenticator) Bind(ctx context.Context, conn RoundTripper) (*BindResult, error) {
	method := a.opts.AuthMethod()
	if method == AuthMethodAnonymous {
		tflog.SubsystemDebug(ctx, "ldap", "No bind DN or SASL mechanism configured, skipping bind")
		return &BindResult{}, nil
	}

	fields := map[string]any{
		"auth_method": method.String(),
		"bind_dn":     a.opts.BindDN,
	}
	tflog.SubsystemDebug(ctx, "ldap", "Performing authentication", fields)

	start := time.Now()
	var (
		resp *ResponseMessage
		err  error
	)
	if method == AuthMethodSimpleBind {
		resp, err = conn.RoundTrip(ctx, &SimpleBindRequest{
			Version:  a.opts.Version,
			DN:       a.opts.BindDN,
			Password: a.opts.BindPassword,
		}, a.bindControls())
		err = a.checkResponse("simple", resp, err)
	} else {
		resp, err = a.saslBind(ctx, conn)
	}

	fields["duration_ms"] = time.Since(start).Milliseconds()
	if err != nil {
		LogLDAPError(ctx, "ldap", "bind", err, fields)
		return nil, err
	}

	result := &BindResult{
		ServerMessage: resp.Result.DiagnosticMessage,
		Controls:      resp.Controls,
		Notices:       BindNotices(resp.Controls),
	}

	tflog.SubsystemInfo(ctx, "ldap", "Authentication successful", fields)
	return result, nil
}

// saslBind drives a SASL mechanism until the server stops answering
// saslBindInProgress.
func (a *Authenticator) saslBind(ctx context.Context, conn RoundTripper) (*ResponseMessage, error) {
	mech, err := newSASLMechanism(a.opts)
	if err != nil {
		return nil, &AuthError{Mechanism: strings.ToUpper(a.opts.SASLMechanism), Code: ldap.LDAPResultLocalError, Cause: err}
	}
	defer func() {
		_ = mech.Close()
	}()

	credentials, err := mech.Start()
	if err != nil {
		return nil, &AuthError{Mechanism: mech.Name(), Code: ldap.LDAPResultLocalError, Cause: err}
	}

	for round := 1; ; round++ {
		resp, err := conn.RoundTrip(ctx, &SASLBindRequest{
			Version:     a.opts.Version,
			Mechanism:   mech.Name(),
			Credentials: credentials,
		}, a.bindControls())
		if err != nil || resp.Result.Code != ldap.LDAPResultSaslBindInProgress {
			if err := a.checkResponse(mech.Name(), resp, err); err != nil {
				return resp, err
			}
			// DIGEST-MD5 servers may return rspauth with the final success.
			if mech.Name() == MechanismDigestMD5 && len(resp.ServerSASLCreds) > 0 {
				if _, err := mech.Step(resp.ServerSASLCreds); err != nil {
					return nil, &AuthError{Mechanism: mech.Name(), Code: ldap.LDAPResultLocalError, Cause: err}
				}
			}
			return resp, nil
		}

		tflog.SubsystemTrace(ctx, "ldap", "SASL bind in progress", map[string]any{
			"mechanism": mech.Name(),
			"round":     round,
		})

		if credentials, err = mech.Step(resp.ServerSASLCreds); err != nil {
			return nil, &AuthError{Mechanism: mech.Name(), Code: ldap.LDAPResultLocalError, Cause: err}
		}
	}
}

// checkResponse turns a rejected bind response into an *AuthError. Transport
// and decode failures pass through unchanged.
func (a *Authenticator) checkResponse(mechanism string, resp *ResponseMessage, err error) error {
	if err != nil {
		return err
	}
	if resp.Result.Code == ldap.LDAPResultSuccess {
		return nil
	}

	message := resp.Result.DiagnosticMessage
	if message == "" {
		message = ResultCodeName(resp.Result.Code)
	}
	return &AuthError{
		Mechanism: mechanism,
		Code:      resp.Result.Code,
		MatchedDN: resp.Result.MatchedDN,
		Message:   message,
		Notices:   BindNotices(resp.Controls),
	}
}

func isSASLProperty(name string) bool {
	switch name {
	case SASLPropertyAuthID, SASLPropertyAuthzID, SASLPropertyRealm, SASLPropertyQOP,
		SASLPropertyDigestURI, SASLPropertyKeytab, SASLPropertyCCache, SASLPropertyKrb5Conf, SASLPropertySPN:
		return true
	}
	return false
}

func (o *ConnectionOptions) saslProperty(name string) string {
	return o.SASLProperties[name]
}
