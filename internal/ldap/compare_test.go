package ldap

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAttributeValue(t *testing.T) {
	dir := t.TempDir()
	photo := filepath.Join(dir, "photo.jpg")
	require.NoError(t, os.WriteFile(photo, []byte{0xff, 0xd8, 0xff}, 0o600))

	tests := []struct {
		name    string
		arg     string
		want    *AttributeValue
		wantErr string
	}{
		{
			name: "plain value",
			arg:  "mail:jdoe@example.com",
			want: &AttributeValue{Attribute: "mail", Value: []byte("jdoe@example.com")},
		},
		{
			name: "value containing colons",
			arg:  "description:a:b:c",
			want: &AttributeValue{Attribute: "description", Value: []byte("a:b:c")},
		},
		{
			name: "empty value",
			arg:  "cn:",
			want: &AttributeValue{Attribute: "cn", Value: []byte{}},
		},
		{
			name: "base64 value",
			arg:  "cn::Sm9obiBEb2U=",
			want: &AttributeValue{Attribute: "cn", Value: []byte("John Doe"), Binary: true},
		},
		{
			name: "file value",
			arg:  "jpegPhoto:<" + photo,
			want: &AttributeValue{Attribute: "jpegPhoto", Value: []byte{0xff, 0xd8, 0xff}, Binary: true},
		},
		{
			name:    "missing colon",
			arg:     "mail",
			wantErr: "expected attribute:value",
		},
		{
			name:    "missing attribute",
			arg:     ":value",
			wantErr: "expected attribute:value",
		},
		{
			name:    "invalid base64",
			arg:     "cn::***",
			wantErr: "unable to base64-decode",
		},
		{
			name:    "missing file",
			arg:     "jpegPhoto:<" + filepath.Join(dir, "missing.jpg"),
			wantErr: "unable to read the value for jpegPhoto",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAttributeValue(tt.arg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Equal(t, uint16(ldap.LDAPResultParamError), ResultCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAttributeValueAssertionValue(t *testing.T) {
	guid, err := EncodeGUID("12345678-1234-5678-9abc-def012345678")
	require.NoError(t, err)
	sid, err := EncodeSID("S-1-5-32-544")
	require.NoError(t, err)

	tests := []struct {
		name        string
		value       *AttributeValue
		wantWire    []byte
		wantDisplay string
		wantErr     bool
	}{
		{
			name:        "text",
			value:       &AttributeValue{Attribute: "cn", Value: []byte("John Doe")},
			wantWire:    []byte("John Doe"),
			wantDisplay: "John Doe",
		},
		{
			name:        "objectGUID string",
			value:       &AttributeValue{Attribute: "objectGUID", Value: []byte("12345678-1234-5678-9abc-def012345678")},
			wantWire:    guid,
			wantDisplay: "12345678-1234-5678-9abc-def012345678",
		},
		{
			name:        "objectGUID binary",
			value:       &AttributeValue{Attribute: "objectGUID", Value: guid, Binary: true},
			wantWire:    guid,
			wantDisplay: "12345678-1234-5678-9abc-def012345678",
		},
		{
			name:    "invalid objectGUID",
			value:   &AttributeValue{Attribute: "objectguid", Value: []byte("nope")},
			wantErr: true,
		},
		{
			name:        "objectSid string",
			value:       &AttributeValue{Attribute: "objectSid", Value: []byte("S-1-5-32-544")},
			wantWire:    sid,
			wantDisplay: "S-1-5-32-544",
		},
		{
			name:        "objectSid binary",
			value:       &AttributeValue{Attribute: "objectSid", Value: sid, Binary: true},
			wantWire:    sid,
			wantDisplay: "S-1-5-32-544",
		},
		{
			name:        "binary value that is not text",
			value:       &AttributeValue{Attribute: "jpegPhoto", Value: []byte{0xff, 0xd8}, Binary: true},
			wantWire:    []byte{0xff, 0xd8},
			wantDisplay: "/9g=",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire, err := tt.value.AssertionValue()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantWire, wire)
			assert.Equal(t, tt.wantDisplay, tt.value.DisplayValue())
		})
	}
}

func TestNewCompareExecutor(t *testing.T) {
	_, err := NewCompareExecutor(CompareParams{}, &BatchOptions{})
	assert.ErrorContains(t, err, "an attribute value assertion is required")

	_, err = NewCompareExecutor(CompareParams{
		Assertion:       &AttributeValue{Attribute: "cn", Value: []byte("x")},
		AssertionFilter: "(cn=",
	}, &BatchOptions{})
	assert.ErrorContains(t, err, "invalid assertion filter")

	executor, err := NewCompareExecutor(CompareParams{
		Assertion:       &AttributeValue{Attribute: "cn", Value: []byte("x")},
		AssertionFilter: "(objectClass=person)",
	}, &BatchOptions{Controls: []ldap.Control{NewRequestControl(ControlTypeNoOp, false)}})
	require.NoError(t, err)
	require.Len(t, executor.controls, 2)
	assert.Equal(t, ControlTypeNoOp, executor.controls[0].GetControlType())
	assert.Equal(t, ControlTypeAssertion, executor.controls[1].GetControlType())
}

func TestCompareExecutor(t *testing.T) {
	executor, err := NewCompareExecutor(CompareParams{
		Assertion: &AttributeValue{Attribute: "cn", Value: []byte("John Doe")},
	}, &BatchOptions{})
	require.NoError(t, err)

	assert.Equal(t, "Comparing type cn with value John Doe in entry uid=jdoe,dc=example,dc=com",
		executor.Describe("uid=jdoe,dc=example,dc=com"))

	tests := []struct {
		name           string
		code           uint16
		wantAcceptable bool
		wantReport     string
	}{
		{"compare true", ldap.LDAPResultCompareTrue, true, "Compare operation returned true for entry uid=jdoe,dc=example,dc=com"},
		{"compare false", ldap.LDAPResultCompareFalse, true, "Compare operation returned false for entry uid=jdoe,dc=example,dc=com"},
		{"no such object", ldap.LDAPResultNoSuchObject, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &recordingRoundTripper{responses: []*ResponseMessage{{
				Op:     ldap.ApplicationCompareResponse,
				Result: Result{Code: tt.code},
			}}}

			result, err := executor.Execute(context.Background(), conn, "uid=jdoe,dc=example,dc=com")
			require.NotNil(t, result)
			assert.Equal(t, tt.wantAcceptable, result.Acceptable)
			assert.Equal(t, tt.code, result.ResultCode)

			if tt.wantAcceptable {
				require.NoError(t, err)
				assert.Equal(t, tt.wantReport, executor.Report("uid=jdoe,dc=example,dc=com", result))
			} else {
				var ldapErr *LDAPError
				require.True(t, errors.As(err, &ldapErr))
				assert.Equal(t, "No Such Object", result.DiagnosticMessage)
			}

			require.Len(t, conn.requests, 1)
			req, ok := conn.requests[0].(*CompareRequest)
			require.True(t, ok)
			assert.Equal(t, "cn", req.Attribute)
			assert.Equal(t, []byte("John Doe"), req.Value)
		})
	}
}

func TestCompareAgainstServer(t *testing.T) {
	server := startFakeServer(t, fakeServerConfig{
		Handler: func(req *fakeRequest) []*ber.Packet {
			return []*ber.Packet{fakeResult(req.MessageID, ldap.ApplicationCompareResponse, ldap.LDAPResultCompareTrue, "", "")}
		},
	})

	conn, err := Open(context.Background(), server.options())
	require.NoError(t, err)
	defer conn.Close()

	batch := &BatchOptions{}
	executor, err := NewCompareExecutor(CompareParams{
		Assertion: &AttributeValue{Attribute: "cn", Value: []byte("John Doe")},
	}, batch)
	require.NoError(t, err)

	var out, errOut bytes.Buffer
	summary := NewBatchRunner(executor, batch, &out, &errOut).Run(context.Background(), conn,
		NewSliceTargets("uid=jdoe,dc=example,dc=com"))

	assert.Equal(t, 0, summary.ExitCode())
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t,
		"Comparing type cn with value John Doe in entry uid=jdoe,dc=example,dc=com\n"+
			"Compare operation returned true for entry uid=jdoe,dc=example,dc=com\n",
		out.String())
	assert.Empty(t, errOut.String())

	requests := server.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "uid=jdoe,dc=example,dc=com", requests[0].DN())
}

func TestCompareDryRun(t *testing.T) {
	executor, err := NewCompareExecutor(CompareParams{
		Assertion: &AttributeValue{Attribute: "cn", Value: []byte("x")},
	}, &BatchOptions{DryRun: true})
	require.NoError(t, err)

	conn := &recordingRoundTripper{}
	result, err := executor.Execute(context.Background(), conn, "cn=x")
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Empty(t, conn.requests)
}
