package ldap

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GUIDBytesLength is the length of a binary objectGUID value.
const GUIDBytesLength = 16

// EncodeGUID converts a GUID string to the Active Directory objectGUID wire
// form. Hyphenated, compact, braced and urn:uuid: forms are accepted.
//
// Active Directory uses mixed-endian encoding: the first three groups are
// little-endian, the last eight bytes are kept in order.
func EncodeGUID(guid string) ([]byte, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(guid))
	if err != nil {
		return nil, fmt.Errorf("invalid GUID %q: %w", guid, err)
	}
	return swapGUIDBytes(parsed[:]), nil
}

// DecodeGUID converts an objectGUID wire value to its hyphenated string form.
func DecodeGUID(value []byte) (string, error) {
	if len(value) != GUIDBytesLength {
		return "", fmt.Errorf("invalid GUID byte length: expected %d, got %d", GUIDBytesLength, len(value))
	}
	parsed, err := uuid.FromBytes(swapGUIDBytes(value))
	if err != nil {
		return "", err
	}
	return parsed.String(), nil
}

// swapGUIDBytes converts between RFC 4122 and mixed-endian byte order. The
// conversion is its own inverse.
func swapGUIDBytes(in []byte) []byte {
	out := make([]byte, GUIDBytesLength)

	// Data1
	out[0], out[1], out[2], out[3] = in[3], in[2], in[1], in[0]
	// Data2
	out[4], out[5] = in[5], in[4]
	// Data3
	out[6], out[7] = in[7], in[6]
	// Data4
	copy(out[8:], in[8:])

	return out
}
