package ldap

import (
	"errors"
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
)

// Codec converts LDAP messages to and from their wire representation.
type Codec interface {
	Encode(msg *RequestMessage) ([]byte, error)
	Decode(frame []byte) (*ResponseMessage, error)
}

// BERCodec is the BER implementation of Codec.
type BERCodec struct{}

// ErrMalformedMessage is wrapped by every decode failure.
var ErrMalformedMessage = errors.New("malformed LDAP message")

// Encode serializes msg as a BER LDAPMessage.
func (BERCodec) Encode(msg *RequestMessage) ([]byte, error) {
	if msg == nil || msg.Op == nil {
		return nil, fmt.Errorf("cannot encode an empty request")
	}

	op, err := msg.Op.packet()
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", msg.Op.Name(), err)
	}

	envelope := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "LDAP Request")
	envelope.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, msg.MessageID, "MessageID"))
	envelope.AppendChild(op)
	if len(msg.Controls) > 0 {
		envelope.AppendChild(encodeControls(msg.Controls))
	}

	return envelope.Bytes(), nil
}

func encodeControls(controls []ldap.Control) *ber.Packet {
	pkt := ber.Encode(ber.ClassContext, ber.TypeConstructed, 0, nil, "Controls")
	for _, control := range controls {
		pkt.AppendChild(control.Encode())
	}
	return pkt
}

// Decode parses a single BER LDAPMessage. Every error wraps ErrMalformedMessage.
func (BERCodec) Decode(frame []byte) (*ResponseMessage, error) {
	pkt, err := ber.DecodePacketErr(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	if pkt.ClassType != ber.ClassUniversal || pkt.TagType != ber.TypeConstructed || pkt.Tag != ber.TagSequence {
		return nil, fmt.Errorf("%w: envelope is not a sequence", ErrMalformedMessage)
	}
	if len(pkt.Children) < 2 {
		return nil, fmt.Errorf("%w: envelope has %d elements", ErrMalformedMessage, len(pkt.Children))
	}

	id, ok := pkt.Children[0].Value.(int64)
	if !ok || id < 0 {
		return nil, fmt.Errorf("%w: invalid message ID", ErrMalformedMessage)
	}

	op := pkt.Children[1]
	if op.ClassType != ber.ClassApplication || op.TagType != ber.TypeConstructed {
		return nil, fmt.Errorf("%w: message %d carries no response operation", ErrMalformedMessage, id)
	}

	msg := &ResponseMessage{MessageID: id, Op: op.Tag}

	switch op.Tag {
	case ldap.ApplicationBindResponse,
		ldap.ApplicationDelResponse,
		ldap.ApplicationCompareResponse,
		ldap.ApplicationExtendedResponse,
		ldap.ApplicationAddResponse,
		ldap.ApplicationModifyResponse,
		ldap.ApplicationModifyDNResponse,
		ldap.ApplicationSearchResultDone:
		if err := decodeResult(op, msg); err != nil {
			return nil, fmt.Errorf("%w: message %d: %w", ErrMalformedMessage, id, err)
		}
	default:
		return nil, fmt.Errorf("%w: message %d has unsupported response tag %d", ErrMalformedMessage, id, op.Tag)
	}

	for _, child := range pkt.Children[2:] {
		if child.ClassType != ber.ClassContext || child.Tag != 0 {
			continue
		}
		for _, raw := range child.Children {
			control, err := DecodeResponseControl(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: message %d: %w", ErrMalformedMessage, id, err)
			}
			msg.Controls = append(msg.Controls, control)
		}
	}

	return msg, nil
}

func decodeResult(op *ber.Packet, msg *ResponseMessage) error {
	if len(op.Children) < 3 {
		return fmt.Errorf("result has %d elements", len(op.Children))
	}

	code, ok := op.Children[0].Value.(int64)
	if !ok || code < 0 || code > 0xffff {
		return fmt.Errorf("invalid result code")
	}
	msg.Result.Code = uint16(code)
	msg.Result.MatchedDN = packetString(op.Children[1])
	msg.Result.DiagnosticMessage = packetString(op.Children[2])

	for _, child := range op.Children[3:] {
		if child.ClassType != ber.ClassContext {
			continue
		}
		switch {
		case child.Tag == 3 && child.TagType == ber.TypeConstructed:
			for _, ref := range child.Children {
				msg.Result.Referrals = append(msg.Result.Referrals, packetString(ref))
			}
		case child.Tag == 7 && msg.Op == ldap.ApplicationBindResponse:
			msg.ServerSASLCreds = packetBytes(child)
		case child.Tag == 10 && msg.Op == ldap.ApplicationExtendedResponse:
			msg.ResponseName = packetString(child)
		case child.Tag == 11 && msg.Op == ldap.ApplicationExtendedResponse:
			msg.ResponseValue = packetBytes(child)
		}
	}

	return nil
}

func packetString(p *ber.Packet) string {
	if s, ok := p.Value.(string); ok {
		return s
	}
	if p.Data == nil {
		return ""
	}
	return string(p.Data.Bytes())
}

func packetBytes(p *ber.Packet) []byte {
	if p.Data == nil {
		return []byte{}
	}
	return append([]byte{}, p.Data.Bytes()...)
}
