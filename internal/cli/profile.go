package cli

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/isometry/ldapops/internal/ldap"
)

// Profile is a named set of connection settings loaded from YAML.
//
//	host: ldap.example.com
//	port: 636
//	tls: ldaps
//	trustStorePath: /etc/ssl/certs/corp-ca.pem
//	bindDN: cn=Directory Manager
//	bindPasswordFile: ~/.ldap-password
//	connectTimeout: 10s
type Profile struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	URL              string        `yaml:"url"`
	Domain           string        `yaml:"domain"`
	LDAPVersion      int           `yaml:"ldapVersion"`
	ConnectTimeout   time.Duration `yaml:"connectTimeout"`
	TLS              string        `yaml:"tls"`
	TrustAll         bool          `yaml:"trustAll"`
	TrustStorePath   string        `yaml:"trustStorePath"`
	KeyStorePath     string        `yaml:"keyStorePath"`
	KeyStoreKeyPath  string        `yaml:"keyStoreKeyPath"`
	BindDN           string        `yaml:"bindDN"`
	BindPasswordFile string        `yaml:"bindPasswordFile"`
	SASLOptions      []string      `yaml:"saslOptions"`
	Controls         []string      `yaml:"controls"`
}

func loadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	return &profile, nil
}

// applyTo copies the profile settings into o for every flag that was not
// given on the command line.
func (p *Profile) applyTo(o *globalOptions, changed func(name string) bool) error {
	setString := func(flag string, dst *string, value string) {
		if value != "" && !changed(flag) {
			*dst = value
		}
	}

	setString("hostname", &o.host, p.Host)
	setString("url", &o.url, p.URL)
	setString("domain", &o.domain, p.Domain)
	setString("trustStorePath", &o.trustStore, p.TrustStorePath)
	setString("keyStorePath", &o.certFile, p.KeyStorePath)
	setString("keyStoreKeyPath", &o.keyFile, p.KeyStoreKeyPath)
	setString("bindDN", &o.bindDN, p.BindDN)
	setString("bindPasswordFile", &o.bindPasswordFile, p.BindPasswordFile)

	if p.Port != 0 && !changed("port") {
		o.port = p.Port
	}
	if p.LDAPVersion != 0 && !changed("ldapVersion") {
		o.version = p.LDAPVersion
	}
	if p.ConnectTimeout != 0 && !changed("connectTimeout") {
		o.connectTimeout = p.ConnectTimeout
	}
	if p.TrustAll && !changed("trustAll") {
		o.trustAll = true
	}
	if len(p.SASLOptions) > 0 && !changed("saslOption") {
		o.saslOptions = p.SASLOptions
	}
	if len(p.Controls) > 0 && !changed("control") {
		o.controls = p.Controls
	}

	if p.TLS != "" && !changed("useSSL") && !changed("useStartTLS") {
		mode, err := ldap.ParseTLSMode(p.TLS)
		if err != nil {
			return fmt.Errorf("invalid profile: %w", err)
		}
		o.useSSL = mode == ldap.TLSModeDirect
		o.useStartTLS = mode == ldap.TLSModeStartTLS
	}

	return nil
}
