package ldap

import (
	"testing"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDeleteRequest(t *testing.T) {
	frame, err := BERCodec{}.Encode(&RequestMessage{
		MessageID: 7,
		Op:        &DeleteRequest{DN: "uid=jdoe,ou=People,dc=example,dc=com"},
		Controls:  []ldap.Control{ldap.NewControlSubtreeDelete()},
	})
	require.NoError(t, err)

	pkt, err := ber.DecodePacketErr(frame)
	require.NoError(t, err)
	require.Len(t, pkt.Children, 3)

	assert.Equal(t, int64(7), pkt.Children[0].Value)

	op := pkt.Children[1]
	assert.Equal(t, ber.ClassApplication, op.ClassType)
	assert.Equal(t, ber.TypePrimitive, op.TagType)
	assert.Equal(t, ber.Tag(ldap.ApplicationDelRequest), op.Tag)
	assert.Equal(t, "uid=jdoe,ou=People,dc=example,dc=com", string(op.Data.Bytes()))

	controls := pkt.Children[2]
	assert.Equal(t, ber.ClassContext, controls.ClassType)
	require.Len(t, controls.Children, 1)
	assert.Equal(t, ldap.ControlTypeSubtreeDelete, controls.Children[0].Children[0].Value)
}

func TestEncodeCompareRequest(t *testing.T) {
	frame, err := BERCodec{}.Encode(&RequestMessage{
		MessageID: 2,
		Op: &CompareRequest{
			DN:        "uid=jdoe,dc=example,dc=com",
			Attribute: "mail",
			Value:     []byte("jdoe@example.com"),
		},
	})
	require.NoError(t, err)

	pkt, err := ber.DecodePacketErr(frame)
	require.NoError(t, err)
	require.Len(t, pkt.Children, 2, "no controls element without controls")

	op := pkt.Children[1]
	assert.Equal(t, ber.Tag(ldap.ApplicationCompareRequest), op.Tag)
	require.Len(t, op.Children, 2)
	assert.Equal(t, "uid=jdoe,dc=example,dc=com", op.Children[0].Value)
	assert.Equal(t, "mail", op.Children[1].Children[0].Value)
	assert.Equal(t, "jdoe@example.com", op.Children[1].Children[1].Value)
}

func TestEncodeSASLBindRequestOmitsNilCredentials(t *testing.T) {
	frame, err := BERCodec{}.Encode(&RequestMessage{
		MessageID: 1,
		Op:        &SASLBindRequest{Version: 3, Mechanism: MechanismExternal},
	})
	require.NoError(t, err)

	pkt, err := ber.DecodePacketErr(frame)
	require.NoError(t, err)

	auth := pkt.Children[1].Children[2]
	assert.Equal(t, ber.Tag(3), auth.Tag)
	require.Len(t, auth.Children, 1)
	assert.Equal(t, MechanismExternal, auth.Children[0].Value)
}

func TestEncodeRejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		msg  *RequestMessage
	}{
		{"nil message", nil},
		{"nil operation", &RequestMessage{MessageID: 1}},
		{"extended request without OID", &RequestMessage{MessageID: 1, Op: &ExtendedRequest{}}},
		{"compare without attribute", &RequestMessage{MessageID: 1, Op: &CompareRequest{DN: "cn=x"}}},
		{"SASL bind without mechanism", &RequestMessage{MessageID: 1, Op: &SASLBindRequest{Version: 3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BERCodec{}.Encode(tt.msg)
			assert.Error(t, err)
		})
	}
}

func TestDecodeResponses(t *testing.T) {
	t.Run("delete response with referral", func(t *testing.T) {
		frame := fakeResult(3, ldap.ApplicationDelResponse, ldap.LDAPResultReferral, "dc=example,dc=com", "",
			fakeReferrals("ldap://a.example.com/", "ldap://b.example.com/")).Bytes()

		msg, err := BERCodec{}.Decode(frame)
		require.NoError(t, err)
		assert.Equal(t, int64(3), msg.MessageID)
		assert.Equal(t, ber.Tag(ldap.ApplicationDelResponse), msg.Op)
		assert.Equal(t, uint16(ldap.LDAPResultReferral), msg.Result.Code)
		assert.Equal(t, "dc=example,dc=com", msg.Result.MatchedDN)
		assert.Equal(t, []string{"ldap://a.example.com/", "ldap://b.example.com/"}, msg.Result.Referrals)
		assert.False(t, msg.IsNotice())
	})

	t.Run("bind response with server credentials", func(t *testing.T) {
		frame := fakeResult(1, ldap.ApplicationBindResponse, ldap.LDAPResultSaslBindInProgress, "", "",
			fakeSASLCreds("challenge")).Bytes()

		msg, err := BERCodec{}.Decode(frame)
		require.NoError(t, err)
		assert.Equal(t, []byte("challenge"), msg.ServerSASLCreds)
	})

	t.Run("notice of disconnection", func(t *testing.T) {
		msg, err := BERCodec{}.Decode(fakeNotice(ldap.LDAPResultUnavailable, "bye").Bytes())
		require.NoError(t, err)
		assert.True(t, msg.IsNotice())
		assert.Equal(t, ExtendedOperationDisconnect, msg.ResponseName)
		assert.Equal(t, "bye", msg.Result.DiagnosticMessage)
	})

	t.Run("response controls", func(t *testing.T) {
		frame := withResponseControls(
			fakeResult(4, ldap.ApplicationCompareResponse, ldap.LDAPResultCompareTrue, "", ""),
			fakeControl("1.2.3.4", true, []byte("opaque")),
		).Bytes()

		msg, err := BERCodec{}.Decode(frame)
		require.NoError(t, err)
		require.Len(t, msg.Controls, 1)

		control, ok := msg.Controls[0].(*OpaqueControl)
		require.True(t, ok)
		assert.Equal(t, "1.2.3.4", control.OID)
		assert.True(t, control.Critical)
		assert.Equal(t, []byte("opaque"), control.Value)
	})
}

func TestDecodeMalformed(t *testing.T) {
	notSequence := ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, "x", "").Bytes()

	shortEnvelope := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "")
	shortEnvelope.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(1), ""))

	requestTag := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "")
	requestTag.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(1), ""))
	requestTag.AppendChild(ber.Encode(ber.ClassApplication, ber.TypeConstructed, ldap.ApplicationSearchResultEntry, nil, ""))

	shortResult := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "")
	shortResult.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(1), ""))
	result := ber.Encode(ber.ClassApplication, ber.TypeConstructed, ldap.ApplicationDelResponse, nil, "")
	result.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated, int64(0), ""))
	shortResult.AppendChild(result)

	badControl := withResponseControls(
		fakeResult(1, ldap.ApplicationBindResponse, ldap.LDAPResultSuccess, "", ""),
		fakeControl(ldap.ControlTypeBeheraPasswordPolicy, false, nil),
	)

	tests := []struct {
		name  string
		frame []byte
	}{
		{"truncated", []byte{0x30, 0x05, 0x02}},
		{"not a sequence", notSequence},
		{"single element envelope", shortEnvelope.Bytes()},
		{"unsupported response", requestTag.Bytes()},
		{"result missing elements", shortResult.Bytes()},
		{"password policy control without value", badControl.Bytes()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BERCodec{}.Decode(tt.frame)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedMessage)
		})
	}
}
