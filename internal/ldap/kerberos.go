package ldap

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
)

const defaultKrb5Conf = "/etc/krb5.conf"

// gssapiMechanism drives a Kerberos V5 GSSAPI exchange (RFC 4752).
type gssapiMechanism struct {
	client  ldap.GSSAPIClient
	spn     string
	authzID string

	needInit bool
}

func newGSSAPIMechanism(opts *ConnectionOptions) (SASLMechanism, error) {
	client, err := createGSSAPIClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create GSSAPI client: %w", err)
	}

	return &gssapiMechanism{
		client:   client,
		spn:      buildServicePrincipal(opts),
		authzID:  opts.saslProperty(SASLPropertyAuthzID),
		needInit: true,
	}, nil
}

func (m *gssapiMechanism) Name() string { return MechanismGSSAPI }

func (m *gssapiMechanism) Start() ([]byte, error) {
	token, needInit, err := m.client.InitSecContext(m.spn, nil)
	if err != nil {
		return nil, err
	}
	m.needInit = needInit
	return token, nil
}

// Step continues context establishment until it completes, then performs
// the security layer negotiation.
func (m *gssapiMechanism) Step(challenge []byte) ([]byte, error) {
	if m.needInit {
		token, needInit, err := m.client.InitSecContext(m.spn, challenge)
		if err != nil {
			return nil, err
		}
		m.needInit = needInit
		return token, nil
	}
	return m.client.NegotiateSaslAuth(challenge, m.authzID)
}

func (m *gssapiMechanism) Close() error {
	return m.client.DeleteSecContext()
}

// kerberosPrincipal splits the authid property into username and realm. A
// realm property takes precedence over a user@REALM suffix.
func kerberosPrincipal(opts *ConnectionOptions) (string, string) {
	username := opts.saslProperty(SASLPropertyAuthID)
	realm := opts.saslProperty(SASLPropertyRealm)

	if user, suffix, ok := strings.Cut(username, "@"); ok {
		username = user
		if realm == "" {
			realm = suffix
		}
	}
	return username, strings.ToUpper(realm)
}

// createGSSAPIClient creates a GSSAPI client from the first available
// credential source: credential cache, default credential cache, keytab,
// default keytab, password.
func createGSSAPIClient(opts *ConnectionOptions) (ldap.GSSAPIClient, error) {
	krb5confPath := opts.saslProperty(SASLPropertyKrb5Conf)
	if krb5confPath == "" {
		krb5confPath = defaultKrb5Conf
	}

	username, realm := kerberosPrincipal(opts)

	if !fileExists(krb5confPath) {
		return nil, fmt.Errorf("Kerberos configuration file not found at %s. "+
			"Either create %s or set the %s SASL property. Example minimal configuration:\n%s",
			krb5confPath, krb5confPath, SASLPropertyKrb5Conf, generateExampleKrb5Conf(realm))
	}

	if ccache := opts.saslProperty(SASLPropertyCCache); ccache != "" && fileExists(ccache) {
		return gssapi.NewClientFromCCache(ccache, krb5confPath, krb5client.DisablePAFXFAST(true))
	}

	if ccache := getDefaultCCachePath(); fileExists(ccache) {
		return gssapi.NewClientFromCCache(ccache, krb5confPath, krb5client.DisablePAFXFAST(true))
	}

	if username == "" || realm == "" {
		return nil, fmt.Errorf("no credential cache found: the %s property must name a principal with a realm", SASLPropertyAuthID)
	}

	if keytab := opts.saslProperty(SASLPropertyKeytab); keytab != "" && fileExists(keytab) {
		return gssapi.NewClientWithKeytab(username, realm, keytab, krb5confPath, krb5client.DisablePAFXFAST(true))
	}

	if keytab := getDefaultKeytabPath(); fileExists(keytab) {
		return gssapi.NewClientWithKeytab(username, realm, keytab, krb5confPath, krb5client.DisablePAFXFAST(true))
	}

	if opts.BindPassword != "" {
		return gssapi.NewClientWithPassword(username, realm, opts.BindPassword, krb5confPath, krb5client.DisablePAFXFAST(true))
	}

	return nil, fmt.Errorf("no suitable Kerberos credentials found: provide a ccache or keytab property, a password, or a default credential cache or keytab")
}

// buildServicePrincipal returns the spn property, or ldap/<host>.
func buildServicePrincipal(opts *ConnectionOptions) string {
	if spn := opts.saslProperty(SASLPropertySPN); spn != "" {
		return spn
	}
	return "ldap/" + strings.ToLower(opts.Host)
}

// getDefaultCCachePath returns the default credential cache location.
func getDefaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

// getDefaultKeytabPath returns the default keytab location.
func getDefaultKeytabPath() string {
	if keytab := os.Getenv("KRB5_KTNAME"); keytab != "" {
		return strings.TrimPrefix(keytab, "FILE:")
	}
	return "/etc/krb5.keytab"
}

// fileExists checks if a file exists and is readable.
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	file.Close()
	return true
}

// generateExampleKrb5Conf generates example krb5.conf content for error messages.
func generateExampleKrb5Conf(realm string) string {
	if realm == "" {
		return "[libdefaults]\n    default_realm = YOUR.REALM.COM\n\n[realms]\n    YOUR.REALM.COM = {\n        kdc = your-kdc.realm.com:88\n    }"
	}

	domain := strings.ToLower(realm)
	kdcHost := "kdc." + domain

	return fmt.Sprintf(`[libdefaults]
    default_realm = %s
    dns_lookup_realm = false
    dns_lookup_kdc = false

[realms]
    %s = {
        kdc = %s:88
    }

[domain_realm]
    .%s = %s
    %s = %s`,
		realm,
		realm, kdcHost,
		domain, realm,
		domain, realm)
}
