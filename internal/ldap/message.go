package ldap

import (
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
)

// Request is a protocol operation carried in an LDAPMessage envelope.
type Request interface {
	// Name is the operation name used in logs and diagnostics.
	Name() string
	packet() (*ber.Packet, error)
	// responseTag is the application tag of the expected response.
	responseTag() ber.Tag
}

// RequestMessage is an outgoing LDAPMessage.
type RequestMessage struct {
	MessageID int64
	Op        Request
	Controls  []ldap.Control
}

// ExtendedRequest is an ExtendedRequest protocol operation (RFC 4511 section 4.12).
type ExtendedRequest struct {
	OID   string
	Value []byte
}

func (r *ExtendedRequest) Name() string { return "extended" }
func (r *ExtendedRequest) responseTag() ber.Tag { return ldap.ApplicationExtendedResponse }

func (r *ExtendedRequest) packet() (*ber.Packet, error) {
	if r.OID == "" {
		return nil, fmt.Errorf("extended request requires an OID")
	}
	pkt := ber.Encode(ber.ClassApplication, ber.TypeConstructed, ldap.ApplicationExtendedRequest, nil, "Extended Request")
	pkt.AppendChild(ber.NewString(ber.ClassContext, ber.TypePrimitive, 0, r.OID, "Extended Request Name"))
	if r.Value != nil {
		pkt.AppendChild(ber.NewString(ber.ClassContext, ber.TypePrimitive, 1, string(r.Value), "Extended Request Value"))
	}
	return pkt, nil
}

// SimpleBindRequest is a bind request with simple authentication.
type SimpleBindRequest struct {
	Version  int
	DN       string
	Password string
}

func (r *SimpleBindRequest) Name() string { return "bind" }
func (r *SimpleBindRequest) responseTag() ber.Tag { return ldap.ApplicationBindResponse }

func (r *SimpleBindRequest) packet() (*ber.Packet, error) {
	pkt := ber.Encode(ber.ClassApplication, ber.TypeConstructed, ldap.ApplicationBindRequest, nil, "Bind Request")
	pkt.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(r.Version), "Version"))
	pkt.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, r.DN, "User Name"))
	pkt.AppendChild(ber.NewString(ber.ClassContext, ber.TypePrimitive, 0, r.Password, "Password"))
	return pkt, nil
}

// SASLBindRequest is a bind request with SASL authentication. A nil
// Credentials field omits the credentials element entirely.
type SASLBindRequest struct {
	Version     int
	DN          string
	Mechanism   string
	Credentials []byte
}

func (r *SASLBindRequest) Name() string { return "bind" }
func (r *SASLBindRequest) responseTag() ber.Tag { return ldap.ApplicationBindResponse }

func (r *SASLBindRequest) packet() (*ber.Packet, error) {
	if r.Mechanism == "" {
		return nil, fmt.Errorf("SASL bind request requires a mechanism")
	}
	pkt := ber.Encode(ber.ClassApplication, ber.TypeConstructed, ldap.ApplicationBindRequest, nil, "Bind Request")
	pkt.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(r.Version), "Version"))
	pkt.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, r.DN, "User Name"))

	auth := ber.Encode(ber.ClassContext, ber.TypeConstructed, 3, "", "authentication")
	auth.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, r.Mechanism, "SASL Mech"))
	if r.Credentials != nil {
		auth.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, string(r.Credentials), "Credentials"))
	}
	pkt.AppendChild(auth)
	return pkt, nil
}

// CompareRequest is a CompareRequest protocol operation.
type CompareRequest struct {
	DN        string
	Attribute string
	Value     []byte
}

func (r *CompareRequest) Name() string { return "compare" }
func (r *CompareRequest) responseTag() ber.Tag { return ldap.ApplicationCompareResponse }

func (r *CompareRequest) packet() (*ber.Packet, error) {
	if r.Attribute == "" {
		return nil, fmt.Errorf("compare request requires an attribute type")
	}
	pkt := ber.Encode(ber.ClassApplication, ber.TypeConstructed, ldap.ApplicationCompareRequest, nil, "Compare Request")
	pkt.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, r.DN, "DN"))

	ava := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "AttributeValueAssertion")
	ava.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, r.Attribute, "AttributeDesc"))
	ava.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, string(r.Value), "AssertionValue"))
	pkt.AppendChild(ava)
	return pkt, nil
}

// DeleteRequest is a DelRequest protocol operation.
type DeleteRequest struct {
	DN string
}

func (r *DeleteRequest) Name() string { return "delete" }
func (r *DeleteRequest) responseTag() ber.Tag { return ldap.ApplicationDelResponse }

func (r *DeleteRequest) packet() (*ber.Packet, error) {
	return ber.NewString(ber.ClassApplication, ber.TypePrimitive, ldap.ApplicationDelRequest, r.DN, "Del Request"), nil
}

// UnbindRequest is an UnbindRequest protocol operation.
type UnbindRequest struct{}

func (r *UnbindRequest) Name() string { return "unbind" }
func (r *UnbindRequest) responseTag() ber.Tag { return 0 }

func (r *UnbindRequest) packet() (*ber.Packet, error) {
	return ber.Encode(ber.ClassApplication, ber.TypePrimitive, ldap.ApplicationUnbindRequest, nil, "Unbind Request"), nil
}

// Result is the LDAPResult component shared by every response.
type Result struct {
	Code              uint16
	MatchedDN         string
	DiagnosticMessage string
	Referrals         []string
}

// ResponseMessage is a decoded incoming LDAPMessage.
type ResponseMessage struct {
	MessageID int64
	// Op is the application tag of the protocol operation.
	Op     ber.Tag
	Result Result

	// Bind responses.
	ServerSASLCreds []byte

	// Extended responses.
	ResponseName  string
	ResponseValue []byte

	Controls []ResponseControl
}

// IsNotice reports whether the message is an unsolicited notification.
func (m *ResponseMessage) IsNotice() bool {
	return m.MessageID == 0 && m.Op == ldap.ApplicationExtendedResponse
}
