package cli

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"strings"
)

// promptTrust verifies server certificates against roots, or the system roots
// when roots is nil, and asks whether to accept a certificate that fails.
type promptTrust struct {
	prompter prompter
	out      io.Writer
	roots    *x509.CertPool
}

func (t *promptTrust) Apply(cfg *tls.Config) error {
	cfg.InsecureSkipVerify = true // #nosec G402 -- the chain is verified in VerifyConnection
	cfg.VerifyConnection = t.verify
	return nil
}

func (t *promptTrust) verify(cs tls.ConnectionState) error {
	if len(cs.PeerCertificates) == 0 {
		return errors.New("the server presented no certificate")
	}

	leaf := cs.PeerCertificates[0]
	intermediates := x509.NewCertPool()
	for _, cert := range cs.PeerCertificates[1:] {
		intermediates.AddCert(cert)
	}

	_, verifyErr := leaf.Verify(x509.VerifyOptions{
		DNSName:       cs.ServerName,
		Roots:         t.roots,
		Intermediates: intermediates,
	})
	if verifyErr == nil {
		return nil
	}

	_, _ = fmt.Fprintln(t.out, "The server is using the following certificate:")
	_, _ = fmt.Fprintln(t.out, describeCertificate(leaf))
	_, _ = fmt.Fprintf(t.out, "It could not be verified: %v\n", verifyErr)

	trusted, err := t.prompter.Confirm("Do you trust this server certificate? (yes/no) [no]: ")
	if err != nil {
		return err
	}
	if !trusted {
		return fmt.Errorf("server certificate rejected: %w", verifyErr)
	}
	return nil
}

func describeCertificate(cert *x509.Certificate) string {
	fingerprint := sha256.Sum256(cert.Raw)
	hexBytes := make([]string, len(fingerprint))
	for i, b := range fingerprint {
		hexBytes[i] = fmt.Sprintf("%02X", b)
	}

	return strings.Join([]string{
		"    Subject DN:  " + cert.Subject.String(),
		"    Issuer DN:   " + cert.Issuer.String(),
		"    Validity:    " + cert.NotBefore.UTC().String() + " through " + cert.NotAfter.UTC().String(),
		"    SHA-256:     " + strings.Join(hexBytes, ":"),
	}, "\n")
}
