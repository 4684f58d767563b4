package ldap

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
)

// Control OIDs used by the engine that go-ldap does not name.
const (
	ControlTypeAccountUsable      = "1.3.6.1.4.1.42.2.27.9.5.8"
	ControlTypeAuthzIDRequest     = "2.16.840.1.113730.3.4.16"
	ControlTypeAuthzIDResponse    = "2.16.840.1.113730.3.4.15"
	ControlTypeNoOp               = "1.3.6.1.4.1.4203.1.10.2"
	ControlTypeSubentries         = "1.3.6.1.4.1.7628.5.101.1"
	ControlTypeRealAttrsOnly      = "2.16.840.1.113730.3.4.17"
	ControlTypeVirtualAttrsOnly   = "2.16.840.1.113730.3.4.19"
	ControlTypeGetEffectiveRights = "1.3.6.1.4.1.42.2.27.9.5.2"
	ControlTypeAssertion          = "1.3.6.1.1.12"
	ExtendedOperationStartTLS     = "1.3.6.1.4.1.1466.20037"
	ExtendedOperationDisconnect   = "1.3.6.1.4.1.1466.20036"
)

// controlAliases maps lower-case aliases to canonical control OIDs.
var controlAliases = map[string]string{
	"accountusable":         ControlTypeAccountUsable,
	"authzid":               ControlTypeAuthzIDRequest,
	"authorizationidentity": ControlTypeAuthzIDRequest,
	"noop":                  ControlTypeNoOp,
	"subentries":            ControlTypeSubentries,
	"managedsait":           ldap.ControlTypeManageDsaIT,
	"pwpolicy":              ldap.ControlTypeBeheraPasswordPolicy,
	"passwordpolicy":        ldap.ControlTypeBeheraPasswordPolicy,
	"subtreedelete":         ldap.ControlTypeSubtreeDelete,
	"treedelete":            ldap.ControlTypeSubtreeDelete,
	"realattrsonly":         ControlTypeRealAttrsOnly,
	"virtualattrsonly":      ControlTypeVirtualAttrsOnly,
	"effectiverights":       ControlTypeGetEffectiveRights,
	"geteffectiverights":    ControlTypeGetEffectiveRights,
}

// ResolveControlAlias returns the OID for a control alias. Matching is
// case-insensitive; unknown names are returned unchanged.
func ResolveControlAlias(name string) string {
	if oid, ok := controlAliases[strings.ToLower(name)]; ok {
		return oid
	}
	return name
}

// ControlAliases returns the alias table.
func ControlAliases() map[string]string {
	aliases := make(map[string]string, len(controlAliases))
	for k, v := range controlAliases {
		aliases[k] = v
	}
	return aliases
}

// RequestControl is a control attached to an outgoing request. It satisfies
// ldap.Control so it can be sent alongside go-ldap's own control types.
type RequestControl struct {
	OID      string
	Critical bool
	Value    []byte
	// HasValue distinguishes an empty value from an absent one.
	HasValue bool
}

// NewRequestControl returns a control with no value.
func NewRequestControl(oid string, critical bool) *RequestControl {
	return &RequestControl{OID: oid, Critical: critical}
}

// NewRequestControlWithValue returns a control carrying value.
func NewRequestControlWithValue(oid string, critical bool, value []byte) *RequestControl {
	return &RequestControl{OID: oid, Critical: critical, Value: value, HasValue: true}
}

func (c *RequestControl) GetControlType() string {
	return c.OID
}

func (c *RequestControl) Encode() *ber.Packet {
	packet := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Control")
	packet.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, c.OID, "Control Type"))
	if c.Critical {
		packet.AppendChild(ber.NewBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean, true, "Criticality"))
	}
	if c.HasValue {
		packet.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, string(c.Value), "Control Value"))
	}
	return packet
}

func (c *RequestControl) String() string {
	return fmt.Sprintf("Control Type: %s  Criticality: %t  Control Value: %q", c.OID, c.Critical, c.Value)
}

// ParseControl parses a control argument of the form
//
//	oid[:criticality[:value|::base64value|:<filePath]]
//
// where oid may be an alias and criticality is one of true, yes, false or no.
func ParseControl(arg string) (*RequestControl, error) {
	if strings.TrimSpace(arg) == "" {
		return nil, NewParamError("control", "control argument is empty")
	}

	name, rest, hasRest := strings.Cut(arg, ":")
	control := NewRequestControl(ResolveControlAlias(name), false)
	if !hasRest {
		return control, nil
	}

	critical, rest, hasValue := strings.Cut(rest, ":")
	switch strings.ToLower(critical) {
	case "true", "yes":
		control.Critical = true
	case "false", "no":
	default:
		return nil, NewParamError("control", fmt.Sprintf("invalid criticality %q in control %q", critical, arg))
	}
	if !hasValue {
		return control, nil
	}

	switch {
	case strings.HasPrefix(rest, ":"):
		value, err := base64.StdEncoding.DecodeString(rest[1:])
		if err != nil {
			return nil, NewParamError("control", fmt.Sprintf("unable to decode base64 value of control %q: %v", arg, err))
		}
		control.Value = value
	case strings.HasPrefix(rest, "<"):
		value, err := os.ReadFile(rest[1:])
		if err != nil {
			return nil, NewParamError("control", fmt.Sprintf("unable to read value of control %q: %v", arg, err))
		}
		control.Value = value
	default:
		control.Value = []byte(rest)
	}
	control.HasValue = true

	return control, nil
}

// NewAssertionControl returns a critical LDAP assertion control (RFC 4528)
// for the given search filter.
func NewAssertionControl(filter string) (*RequestControl, error) {
	compiled, err := ldap.CompileFilter(filter)
	if err != nil {
		return nil, NewParamError("assertion filter", fmt.Sprintf("invalid assertion filter %q: %v", filter, err))
	}
	return NewRequestControlWithValue(ControlTypeAssertion, true, compiled.Bytes()), nil
}

// ResponseControl is a control returned by the server, decoded into one of
// AuthzIDResponse, PasswordExpired, PasswordExpiring, PasswordPolicyResponse
// or OpaqueControl.
type ResponseControl interface {
	ControlOID() string
	IsCritical() bool
	responseControl()
}

// AuthzIDResponse carries the authorization identity of a bind (RFC 3829).
type AuthzIDResponse struct {
	Critical bool
	// Identity is empty for the anonymous identity.
	Identity string
}

// PasswordExpired reports that the bound password has expired.
type PasswordExpired struct {
	Critical bool
}

// PasswordExpiring reports the seconds remaining before the password expires.
type PasswordExpiring struct {
	Critical               bool
	SecondsUntilExpiration int64
}

// PasswordPolicyWarning identifies the warning carried by a password policy response.
type PasswordPolicyWarning int

const (
	PasswordPolicyWarningNone PasswordPolicyWarning = iota
	PasswordPolicyWarningTimeBeforeExpiration
	PasswordPolicyWarningGraceLoginsRemaining
)

// PasswordPolicyResponse is the draft-behera password policy response.
// Warning and Error are independent and may both be set.
type PasswordPolicyResponse struct {
	Critical     bool
	Warning      PasswordPolicyWarning
	WarningValue int64
	// Error is -1 when the server reported no error.
	Error       int8
	ErrorString string
}

// HasError reports whether the response carries a password policy error.
func (c *PasswordPolicyResponse) HasError() bool {
	return c.Error >= 0
}

// OpaqueControl is a response control the engine does not interpret.
type OpaqueControl struct {
	OID      string
	Critical bool
	Value    []byte
	HasValue bool
}

func (c *AuthzIDResponse) ControlOID() string        { return ControlTypeAuthzIDResponse }
func (c *PasswordExpired) ControlOID() string        { return ldap.ControlTypeVChuPasswordMustChange }
func (c *PasswordExpiring) ControlOID() string       { return ldap.ControlTypeVChuPasswordWarning }
func (c *PasswordPolicyResponse) ControlOID() string { return ldap.ControlTypeBeheraPasswordPolicy }
func (c *OpaqueControl) ControlOID() string          { return c.OID }

func (c *AuthzIDResponse) IsCritical() bool        { return c.Critical }
func (c *PasswordExpired) IsCritical() bool        { return c.Critical }
func (c *PasswordExpiring) IsCritical() bool       { return c.Critical }
func (c *PasswordPolicyResponse) IsCritical() bool { return c.Critical }
func (c *OpaqueControl) IsCritical() bool          { return c.Critical }

func (*AuthzIDResponse) responseControl()        {}
func (*PasswordExpired) responseControl()        {}
func (*PasswordExpiring) responseControl()       {}
func (*PasswordPolicyResponse) responseControl() {}
func (*OpaqueControl) responseControl()          {}

// DecodeResponseControl decodes one element of a response's controls sequence.
func DecodeResponseControl(raw *ber.Packet) (ResponseControl, error) {
	if raw == nil || raw.TagType != ber.TypeConstructed || len(raw.Children) == 0 || len(raw.Children) > 3 {
		return nil, fmt.Errorf("invalid control structure")
	}

	oid, ok := raw.Children[0].Value.(string)
	if !ok || oid == "" {
		return nil, fmt.Errorf("control has no type")
	}

	var (
		critical bool
		value    *ber.Packet
	)
	switch len(raw.Children) {
	case 2:
		if b, ok := raw.Children[1].Value.(bool); ok {
			critical = b
		} else {
			value = raw.Children[1]
		}
	case 3:
		b, ok := raw.Children[1].Value.(bool)
		if !ok {
			return nil, fmt.Errorf("control %s has an invalid criticality", oid)
		}
		critical = b
		value = raw.Children[2]
	}

	switch oid {
	case ControlTypeAuthzIDResponse:
		c := &AuthzIDResponse{Critical: critical}
		if value != nil {
			c.Identity = packetString(value)
		}
		return c, nil

	case ldap.ControlTypeBeheraPasswordPolicy, ldap.ControlTypeVChuPasswordMustChange, ldap.ControlTypeVChuPasswordWarning:
		if oid != ldap.ControlTypeVChuPasswordMustChange {
			if value == nil || value.Data == nil || value.Data.Len() == 0 {
				return nil, fmt.Errorf("control %s has no value", oid)
			}
			if _, ok := value.Value.(string); !ok {
				return nil, fmt.Errorf("control %s has an invalid value", oid)
			}
		}
		decoded, err := decodeControl(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode control %s: %w", oid, err)
		}
		switch c := decoded.(type) {
		case *ldap.ControlBeheraPasswordPolicy:
			return newPasswordPolicyResponse(c, critical), nil
		case *ldap.ControlVChuPasswordMustChange:
			return &PasswordExpired{Critical: critical}, nil
		case *ldap.ControlVChuPasswordWarning:
			return &PasswordExpiring{Critical: critical, SecondsUntilExpiration: c.Expire}, nil
		}
	}

	opaque := &OpaqueControl{OID: oid, Critical: critical}
	if value != nil {
		opaque.Value = packetBytes(value)
		opaque.HasValue = true
	}
	return opaque, nil
}

// decodeControl runs ldap.DecodeControl, which panics on some malformed
// values instead of returning an error.
func decodeControl(raw *ber.Packet) (control ldap.Control, err error) {
	defer func() {
		if r := recover(); r != nil {
			control = nil
			err = fmt.Errorf("malformed control value: %v", r)
		}
	}()
	return ldap.DecodeControl(raw)
}

func newPasswordPolicyResponse(c *ldap.ControlBeheraPasswordPolicy, critical bool) *PasswordPolicyResponse {
	resp := &PasswordPolicyResponse{
		Critical:    critical,
		Error:       c.Error,
		ErrorString: c.ErrorString,
	}
	switch {
	case c.Expire >= 0:
		resp.Warning = PasswordPolicyWarningTimeBeforeExpiration
		resp.WarningValue = c.Expire
	case c.Grace >= 0:
		resp.Warning = PasswordPolicyWarningGraceLoginsRemaining
		resp.WarningValue = c.Grace
	}
	return resp
}
