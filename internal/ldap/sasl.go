package ldap

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5" // #nosec G501 -- required by the CRAM-MD5 and DIGEST-MD5 mechanisms
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
)

// SASL mechanism names.
const (
	MechanismExternal  = "EXTERNAL"
	MechanismPlain     = "PLAIN"
	MechanismCRAMMD5   = "CRAM-MD5"
	MechanismDigestMD5 = "DIGEST-MD5"
	MechanismGSSAPI    = "GSSAPI"
)

// SASLMechanism is a client-side SASL mechanism driver.
type SASLMechanism interface {
	Name() string
	// Start returns the initial response. A nil response sends no credentials.
	Start() ([]byte, error)
	// Step answers a server challenge received with saslBindInProgress.
	Step(challenge []byte) ([]byte, error)
	Close() error
}

var saslMechanisms = map[string]func(opts *ConnectionOptions) (SASLMechanism, error){
	MechanismExternal: func(opts *ConnectionOptions) (SASLMechanism, error) {
		return &externalMechanism{authzID: opts.saslProperty(SASLPropertyAuthzID)}, nil
	},
	MechanismPlain: func(opts *ConnectionOptions) (SASLMechanism, error) {
		return &plainMechanism{
			authzID:  opts.saslProperty(SASLPropertyAuthzID),
			authID:   opts.saslProperty(SASLPropertyAuthID),
			password: opts.BindPassword,
		}, nil
	},
	MechanismCRAMMD5: func(opts *ConnectionOptions) (SASLMechanism, error) {
		return &cramMD5Mechanism{
			authID:   opts.saslProperty(SASLPropertyAuthID),
			password: opts.BindPassword,
		}, nil
	},
	MechanismDigestMD5: newDigestMD5Mechanism,
	MechanismGSSAPI:    newGSSAPIMechanism,
}

// SupportedSASLMechanisms returns the supported mechanism names in sorted order.
func SupportedSASLMechanisms() []string {
	names := make([]string, 0, len(saslMechanisms))
	for name := range saslMechanisms {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsSupportedSASLMechanism reports whether name is a supported mechanism.
func IsSupportedSASLMechanism(name string) bool {
	_, ok := saslMechanisms[strings.ToUpper(name)]
	return ok
}

func newSASLMechanism(opts *ConnectionOptions) (SASLMechanism, error) {
	factory, ok := saslMechanisms[strings.ToUpper(opts.SASLMechanism)]
	if !ok {
		return nil, fmt.Errorf("unsupported SASL mechanism %q", opts.SASLMechanism)
	}
	return factory(opts)
}

// externalMechanism relies on the TLS client certificate (RFC 4422 appendix A).
type externalMechanism struct {
	authzID string
}

func (m *externalMechanism) Name() string { return MechanismExternal }

func (m *externalMechanism) Start() ([]byte, error) {
	if m.authzID == "" {
		return nil, nil
	}
	return []byte(m.authzID), nil
}

func (m *externalMechanism) Step([]byte) ([]byte, error) {
	return nil, fmt.Errorf("unexpected challenge for SASL EXTERNAL")
}

func (m *externalMechanism) Close() error { return nil }

// plainMechanism implements RFC 4616.
type plainMechanism struct {
	authzID  string
	authID   string
	password string
}

func (m *plainMechanism) Name() string { return MechanismPlain }

func (m *plainMechanism) Start() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(m.authzID)
	buf.WriteByte(0)
	buf.WriteString(m.authID)
	buf.WriteByte(0)
	buf.WriteString(m.password)
	return buf.Bytes(), nil
}

func (m *plainMechanism) Step([]byte) ([]byte, error) {
	return nil, fmt.Errorf("unexpected challenge for SASL PLAIN")
}

func (m *plainMechanism) Close() error { return nil }

// cramMD5Mechanism implements RFC 2195.
type cramMD5Mechanism struct {
	authID   string
	password string
	answered bool
}

func (m *cramMD5Mechanism) Name() string { return MechanismCRAMMD5 }

func (m *cramMD5Mechanism) Start() ([]byte, error) { return nil, nil }

func (m *cramMD5Mechanism) Step(challenge []byte) ([]byte, error) {
	if m.answered {
		return nil, fmt.Errorf("unexpected second challenge for SASL CRAM-MD5")
	}
	if len(challenge) == 0 {
		return nil, fmt.Errorf("server sent an empty CRAM-MD5 challenge")
	}
	m.answered = true

	mac := hmac.New(md5.New, []byte(m.password))
	mac.Write(challenge)
	return []byte(m.authID + " " + hex.EncodeToString(mac.Sum(nil))), nil
}

func (m *cramMD5Mechanism) Close() error { return nil }

// digestMD5Mechanism implements RFC 2831 with the auth quality of protection.
type digestMD5Mechanism struct {
	authID    string
	authzID   string
	password  string
	realm     string
	digestURI string

	// Set once the digest response has been sent, to verify rspauth.
	ha1    string
	nonce  string
	cnonce string
}

func newDigestMD5Mechanism(opts *ConnectionOptions) (SASLMechanism, error) {
	uri := opts.saslProperty(SASLPropertyDigestURI)
	if uri == "" {
		uri = "ldap/" + strings.ToLower(opts.Host)
	}
	return &digestMD5Mechanism{
		authID:    opts.saslProperty(SASLPropertyAuthID),
		authzID:   opts.saslProperty(SASLPropertyAuthzID),
		password:  opts.BindPassword,
		realm:     opts.saslProperty(SASLPropertyRealm),
		digestURI: uri,
	}, nil
}

func (m *digestMD5Mechanism) Name() string { return MechanismDigestMD5 }

func (m *digestMD5Mechanism) Start() ([]byte, error) { return nil, nil }

func (m *digestMD5Mechanism) Step(challenge []byte) ([]byte, error) {
	params, err := parseDigestParams(string(challenge))
	if err != nil {
		return nil, fmt.Errorf("parsing digest-challenge: %w", err)
	}

	if rspauth, ok := params["rspauth"]; ok {
		if m.ha1 == "" {
			return nil, fmt.Errorf("server sent rspauth before a digest response")
		}
		if rspauth != m.responseValue("") {
			return nil, fmt.Errorf("server response authentication failed")
		}
		return nil, nil
	}

	if m.ha1 != "" {
		return nil, fmt.Errorf("unexpected second digest-challenge")
	}

	m.nonce = params["nonce"]
	if m.nonce == "" {
		return nil, fmt.Errorf("digest-challenge has no nonce")
	}
	if qop, ok := params["qop"]; ok && !slices.Contains(strings.Split(qop, ","), "auth") {
		return nil, fmt.Errorf("server does not offer the auth quality of protection")
	}
	if m.realm == "" {
		m.realm = params["realm"]
	}

	cnonce := make([]byte, 16)
	if _, err := rand.Read(cnonce); err != nil {
		return nil, fmt.Errorf("failed to generate cnonce: %w", err)
	}
	m.cnonce = hex.EncodeToString(cnonce)

	a1 := bytes.NewBuffer(md5Sum(m.authID + ":" + m.realm + ":" + m.password))
	a1.WriteString(":" + m.nonce + ":" + m.cnonce)
	if m.authzID != "" {
		a1.WriteString(":" + m.authzID)
	}
	m.ha1 = hex.EncodeToString(md5Sum(a1.String()))

	response := fmt.Sprintf(`username="%s",realm="%s",nonce="%s",cnonce="%s",nc=00000001,qop=auth,digest-uri="%s",response=%s`,
		m.authID, m.realm, m.nonce, m.cnonce, m.digestURI, m.responseValue("AUTHENTICATE"))
	if m.authzID != "" {
		response += fmt.Sprintf(`,authzid="%s"`, m.authzID)
	}
	return []byte(response), nil
}

// responseValue computes the digest response; the empty method gives rspauth.
func (m *digestMD5Mechanism) responseValue(method string) string {
	ha2 := hex.EncodeToString(md5Sum(method + ":" + m.digestURI))
	kd := strings.Join([]string{m.ha1, m.nonce, "00000001", m.cnonce, "auth", ha2}, ":")
	return hex.EncodeToString(md5Sum(kd))
}

func (m *digestMD5Mechanism) Close() error { return nil }

func md5Sum(s string) []byte {
	sum := md5.Sum([]byte(s)) // #nosec G401 -- DIGEST-MD5 is defined over MD5
	return sum[:]
}

// parseDigestParams parses a comma separated list of name=value pairs where
// values may be quoted.
func parseDigestParams(s string) (map[string]string, error) {
	params := make(map[string]string)
	for len(s) > 0 {
		eq := strings.IndexByte(s, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("syntax error near %q", s)
		}
		key := strings.ToLower(strings.TrimSpace(s[:eq]))
		s = s[eq+1:]

		var value string
		if strings.HasPrefix(s, `"`) {
			end := 1
			var buf strings.Builder
			for ; end < len(s) && s[end] != '"'; end++ {
				if s[end] == '\\' && end+1 < len(s) {
					end++
				}
				buf.WriteByte(s[end])
			}
			if end >= len(s) {
				return nil, fmt.Errorf("unterminated quoted value for %s", key)
			}
			value = buf.String()
			s = s[end+1:]
		} else {
			comma := strings.IndexByte(s, ',')
			if comma < 0 {
				comma = len(s)
			}
			value = strings.TrimSpace(s[:comma])
			s = s[comma:]
		}

		// A challenge may offer several realms; the first one wins.
		if prev, ok := params[key]; ok && key == "realm" {
			value = prev
		}
		params[key] = value

		s = strings.TrimLeft(s, " ")
		if strings.HasPrefix(s, ",") {
			s = strings.TrimLeft(s[1:], " ")
		} else if s != "" {
			return nil, fmt.Errorf("syntax error near %q", s)
		}
	}
	return params, nil
}
