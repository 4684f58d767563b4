package ldap

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/go-ldap/ldap/v3"
)

// AttributeValue is an attribute type and assertion value parsed from the
// attr:value, attr::base64 or attr:<file syntax.
type AttributeValue struct {
	Attribute string
	Value     []byte
	// Binary is set when the value was given in base64 or read from a file.
	Binary bool
}

// ParseAttributeValue parses an attribute value assertion argument.
func ParseAttributeValue(arg string) (*AttributeValue, error) {
	attr, rest, ok := strings.Cut(arg, ":")
	attr = strings.TrimSpace(attr)
	if !ok || attr == "" {
		return nil, NewParamError("attribute", fmt.Sprintf("invalid attribute value assertion %q: expected attribute:value", arg))
	}

	switch {
	case strings.HasPrefix(rest, ":"):
		value, err := base64.StdEncoding.DecodeString(strings.TrimSpace(rest[1:]))
		if err != nil {
			return nil, NewParamError("attribute", fmt.Sprintf("unable to base64-decode the value for %s: %v", attr, err))
		}
		return &AttributeValue{Attribute: attr, Value: value, Binary: true}, nil

	case strings.HasPrefix(rest, "<"):
		path := strings.TrimSpace(rest[1:])
		value, err := os.ReadFile(path)
		if err != nil {
			return nil, NewParamError("attribute", fmt.Sprintf("unable to read the value for %s from %s: %v", attr, path, err))
		}
		return &AttributeValue{Attribute: attr, Value: value, Binary: true}, nil

	default:
		return &AttributeValue{Attribute: attr, Value: []byte(rest)}, nil
	}
}

// AssertionValue returns the value sent on the wire. String forms of
// objectGUID and objectSid are converted to their binary encoding.
func (v *AttributeValue) AssertionValue() ([]byte, error) {
	if v.Binary {
		return v.Value, nil
	}

	switch strings.ToLower(v.Attribute) {
	case "objectguid":
		value, err := EncodeGUID(string(v.Value))
		if err != nil {
			return nil, NewParamError("attribute", err.Error())
		}
		return value, nil
	case "objectsid":
		if !strings.HasPrefix(strings.ToUpper(string(v.Value)), "S-") {
			return v.Value, nil
		}
		value, err := EncodeSID(string(v.Value))
		if err != nil {
			return nil, NewParamError("attribute", err.Error())
		}
		return value, nil
	}

	return v.Value, nil
}

// DisplayValue renders the value for output lines.
func (v *AttributeValue) DisplayValue() string {
	if !v.Binary {
		return string(v.Value)
	}

	switch strings.ToLower(v.Attribute) {
	case "objectguid":
		if s, err := DecodeGUID(v.Value); err == nil {
			return s
		}
	case "objectsid":
		if s, err := DecodeSID(v.Value); err == nil {
			return s
		}
	}

	if utf8.Valid(v.Value) {
		return string(v.Value)
	}
	return base64.StdEncoding.EncodeToString(v.Value)
}

// CompareParams are the compare-specific parameters of a batch.
type CompareParams struct {
	Assertion *AttributeValue
	// AssertionFilter attaches an assertion control when set.
	AssertionFilter string
}

// CompareExecutor compares an attribute value in each target entry.
type CompareExecutor struct {
	attribute string
	value     []byte
	display   string
	controls  []ldap.Control
	dryRun    bool
}

// NewCompareExecutor validates params and builds the executor.
func NewCompareExecutor(params CompareParams, batch *BatchOptions) (*CompareExecutor, error) {
	if params.Assertion == nil {
		return nil, NewParamError("attribute", "an attribute value assertion is required")
	}

	value, err := params.Assertion.AssertionValue()
	if err != nil {
		return nil, err
	}

	controls := withControls(batch.Controls)
	if params.AssertionFilter != "" {
		assertion, err := NewAssertionControl(params.AssertionFilter)
		if err != nil {
			return nil, err
		}
		controls = append(controls, assertion)
	}

	return &CompareExecutor{
		attribute: params.Assertion.Attribute,
		value:     value,
		display:   params.Assertion.DisplayValue(),
		controls:  controls,
		dryRun:    batch.DryRun,
	}, nil
}

func (e *CompareExecutor) Name() string { return "compare" }

func (e *CompareExecutor) Describe(target string) string {
	return fmt.Sprintf("Comparing type %s with value %s in entry %s", e.attribute, e.display, target)
}

func (e *CompareExecutor) Execute(ctx context.Context, conn RoundTripper, target string) (*OperationResult, error) {
	if e.dryRun {
		return dryRunResult(), nil
	}

	req := &CompareRequest{DN: target, Attribute: e.attribute, Value: e.value}
	return exchange(ctx, conn, target, req, e.controls,
		ldap.LDAPResultCompareTrue, ldap.LDAPResultCompareFalse)
}

func (e *CompareExecutor) Report(target string, result *OperationResult) string {
	switch result.ResultCode {
	case ldap.LDAPResultCompareTrue:
		return fmt.Sprintf("Compare operation returned true for entry %s", target)
	case ldap.LDAPResultCompareFalse:
		return fmt.Sprintf("Compare operation returned false for entry %s", target)
	default:
		return ""
	}
}
