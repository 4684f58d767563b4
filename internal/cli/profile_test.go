package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadProfile(t *testing.T) {
	path := writeProfile(t, `
host: ldap.example.com
port: 636
tls: ldaps
trustStorePath: /etc/ssl/ca.pem
bindDN: cn=Directory Manager
connectTimeout: 10s
saslOptions:
  - mech=DIGEST-MD5
  - authid=dn:cn=admin
controls:
  - noop
`)

	profile, err := loadProfile(path)
	require.NoError(t, err)

	assert.Equal(t, "ldap.example.com", profile.Host)
	assert.Equal(t, 636, profile.Port)
	assert.Equal(t, "ldaps", profile.TLS)
	assert.Equal(t, 10*time.Second, profile.ConnectTimeout)
	assert.Equal(t, []string{"mech=DIGEST-MD5", "authid=dn:cn=admin"}, profile.SASLOptions)
	assert.Equal(t, []string{"noop"}, profile.Controls)
}

func TestLoadProfileInvalid(t *testing.T) {
	_, err := loadProfile(writeProfile(t, "port: [not a port"))
	assert.ErrorContains(t, err, "failed to parse profile")

	_, err = loadProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read profile")
}

func TestProfileApplyTo(t *testing.T) {
	profile := &Profile{
		Host:        "ldap.example.com",
		Port:        636,
		TLS:         "starttls",
		TrustAll:    true,
		BindDN:      "cn=profile",
		Controls:    []string{"noop"},
		LDAPVersion: 2,
	}

	t.Run("profile fills unset flags", func(t *testing.T) {
		o := &globalOptions{host: "localhost", port: 389, version: 3}
		require.NoError(t, profile.applyTo(o, func(string) bool { return false }))

		assert.Equal(t, "ldap.example.com", o.host)
		assert.Equal(t, 636, o.port)
		assert.Equal(t, 2, o.version)
		assert.True(t, o.useStartTLS)
		assert.False(t, o.useSSL)
		assert.True(t, o.trustAll)
		assert.Equal(t, "cn=profile", o.bindDN)
		assert.Equal(t, []string{"noop"}, o.controls)
	})

	t.Run("flags override the profile", func(t *testing.T) {
		changed := map[string]bool{"hostname": true, "port": true, "useSSL": true}
		o := &globalOptions{host: "override", port: 1389, useSSL: true}
		require.NoError(t, profile.applyTo(o, func(name string) bool { return changed[name] }))

		assert.Equal(t, "override", o.host)
		assert.Equal(t, 1389, o.port)
		assert.True(t, o.useSSL)
		assert.False(t, o.useStartTLS)
	})

	t.Run("invalid TLS mode", func(t *testing.T) {
		err := (&Profile{TLS: "bogus"}).applyTo(&globalOptions{}, func(string) bool { return false })
		assert.ErrorContains(t, err, "invalid profile")
	})
}
