package ldap

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/go-objectsid"
)

const (
	sidHeaderLength      = 8
	sidMaxSubAuthorities = 15
)

// EncodeSID converts an S-R-I-S-S... string to the objectSid wire form:
// revision, sub-authority count, 48-bit big-endian identifier authority, then
// 32-bit little-endian sub-authorities.
func EncodeSID(sid string) ([]byte, error) {
	parts := strings.Split(strings.TrimSpace(sid), "-")
	if len(parts) < 3 || !strings.EqualFold(parts[0], "S") {
		return nil, fmt.Errorf("invalid SID %q: must have the form S-1-<authority>[-<sub-authority>...]", sid)
	}

	revision, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("invalid SID revision %q: %w", parts[1], err)
	}

	authority, err := strconv.ParseUint(parts[2], 10, 48)
	if err != nil {
		return nil, fmt.Errorf("invalid SID identifier authority %q: %w", parts[2], err)
	}

	subAuthorities := parts[3:]
	if len(subAuthorities) > sidMaxSubAuthorities {
		return nil, fmt.Errorf("invalid SID %q: at most %d sub-authorities are allowed", sid, sidMaxSubAuthorities)
	}

	out := make([]byte, sidHeaderLength+4*len(subAuthorities))
	out[0] = byte(revision)
	out[1] = byte(len(subAuthorities))
	for i := 0; i < 6; i++ {
		out[2+i] = byte(authority >> (8 * (5 - i)))
	}

	for i, part := range subAuthorities {
		value, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid SID sub-authority %q: %w", part, err)
		}
		binary.LittleEndian.PutUint32(out[sidHeaderLength+4*i:], uint32(value))
	}

	return out, nil
}

// DecodeSID converts an objectSid wire value to its string form.
func DecodeSID(value []byte) (string, error) {
	if len(value) < sidHeaderLength {
		return "", fmt.Errorf("binary SID too short: %d bytes", len(value))
	}
	if want := sidHeaderLength + 4*int(value[1]); len(value) != want {
		return "", fmt.Errorf("invalid binary SID length: expected %d, got %d", want, len(value))
	}
	return objectsid.Decode(value).String(), nil
}
