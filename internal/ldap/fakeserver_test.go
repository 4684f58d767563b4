package ldap

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
)

// fakeRequest is a request received by fakeServer.
type fakeRequest struct {
	MessageID int64
	Op        ber.Tag
	Packet    *ber.Packet
	Controls  []string
	Secure    bool
}

// DN returns the entry name of a bind, compare or delete request.
func (r *fakeRequest) DN() string {
	switch r.Op {
	case ldap.ApplicationDelRequest:
		return string(r.Packet.Data.Bytes())
	case ldap.ApplicationCompareRequest:
		return packetString(r.Packet.Children[0])
	case ldap.ApplicationBindRequest:
		return packetString(r.Packet.Children[1])
	}
	return ""
}

// ExtendedName returns the OID of an extended request.
func (r *fakeRequest) ExtendedName() string {
	if r.Op != ldap.ApplicationExtendedRequest || len(r.Packet.Children) == 0 {
		return ""
	}
	return packetString(r.Packet.Children[0])
}

// SASLMechanism returns the mechanism and credentials of a SASL bind request.
func (r *fakeRequest) SASLMechanism() (string, []byte, bool) {
	if r.Op != ldap.ApplicationBindRequest || len(r.Packet.Children) < 3 {
		return "", nil, false
	}
	auth := r.Packet.Children[2]
	if auth.Tag != 3 || len(auth.Children) == 0 {
		return "", nil, false
	}
	var creds []byte
	if len(auth.Children) > 1 {
		creds = packetBytes(auth.Children[1])
	}
	return packetString(auth.Children[0]), creds, true
}

// SimplePassword returns the password of a simple bind request.
func (r *fakeRequest) SimplePassword() string {
	if r.Op != ldap.ApplicationBindRequest || len(r.Packet.Children) < 3 {
		return ""
	}
	return string(r.Packet.Children[2].Data.Bytes())
}

// fakeHandler answers a request. Returning nil closes the connection.
type fakeHandler func(req *fakeRequest) []*ber.Packet

type fakeServerConfig struct {
	// LDAPS starts TLS before the first request.
	LDAPS bool
	// StartTLSCode and StartTLSDiag answer a StartTLS request.
	StartTLSCode uint16
	StartTLSDiag string
	Handler      fakeHandler
}

// fakeServer is a scripted directory server listening on the loopback interface.
type fakeServer struct {
	t         *testing.T
	cfg       fakeServerConfig
	listener  net.Listener
	tlsConfig *tls.Config
	certPEM   []byte
	pool      *x509.CertPool

	mu       sync.Mutex
	requests []*fakeRequest
	conns    []net.Conn
	wg       sync.WaitGroup
}

func startFakeServer(t *testing.T, cfg fakeServerConfig) *fakeServer {
	t.Helper()

	certPEM, keyPEM := generateTestCertificate(t)
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("failed to load test certificate: %v", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(certPEM)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	s := &fakeServer{
		t:        t,
		cfg:      cfg,
		listener: listener,
		tlsConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
		certPEM: certPEM,
		pool:    pool,
	}

	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.stop)
	return s
}

// options returns connection options pointing at the server.
func (s *fakeServer) options() *ConnectionOptions {
	opts := DefaultConnectionOptions()
	host, port, _ := net.SplitHostPort(s.listener.Addr().String())
	opts.Host = host
	opts.Port, _ = strconv.Atoi(port)
	opts.ConnectTimeout = 5 * time.Second
	opts.Trust = TrustPool{Pool: s.pool}
	if s.cfg.LDAPS {
		opts.TLSMode = TLSModeDirect
	}
	return opts
}

// Requests returns a copy of every request received so far.
func (s *fakeServer) Requests() []*fakeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeRequest(nil), s.requests...)
}

// MessageIDs returns the message IDs of every request received so far.
func (s *fakeServer) MessageIDs() []int64 {
	var ids []int64
	for _, req := range s.Requests() {
		ids = append(ids, req.MessageID)
	}
	return ids
}

func (s *fakeServer) stop() {
	_ = s.listener.Close()
	s.mu.Lock()
	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *fakeServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *fakeServer) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		_ = conn.Close()
	}()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	secure := false
	if s.cfg.LDAPS {
		tlsConn := tls.Server(conn, s.tlsConfig)
		if err := tlsConn.Handshake(); err != nil {
			return
		}
		conn = tlsConn
		secure = true
	}

	for {
		pkt, err := ber.ReadPacket(conn)
		if err != nil {
			return
		}

		req, err := parseFakeRequest(pkt, secure)
		if err != nil {
			s.t.Errorf("fake server received a malformed request: %v", err)
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		if req.Op == ldap.ApplicationUnbindRequest {
			return
		}

		if req.ExtendedName() == ExtendedOperationStartTLS {
			resp := fakeResult(req.MessageID, ldap.ApplicationExtendedResponse, s.cfg.StartTLSCode, "", s.cfg.StartTLSDiag)
			if _, err := conn.Write(resp.Bytes()); err != nil {
				return
			}
			if s.cfg.StartTLSCode != ldap.LDAPResultSuccess {
				continue
			}
			tlsConn := tls.Server(conn, s.tlsConfig)
			if err := tlsConn.Handshake(); err != nil {
				return
			}
			conn = tlsConn
			secure = true
			continue
		}

		if s.cfg.Handler == nil {
			return
		}
		responses := s.cfg.Handler(req)
		if responses == nil {
			return
		}
		for _, resp := range responses {
			if _, err := conn.Write(resp.Bytes()); err != nil {
				return
			}
		}
	}
}

func parseFakeRequest(pkt *ber.Packet, secure bool) (*fakeRequest, error) {
	if len(pkt.Children) < 2 {
		return nil, ErrMalformedMessage
	}
	id, ok := pkt.Children[0].Value.(int64)
	if !ok {
		return nil, ErrMalformedMessage
	}

	op := pkt.Children[1]
	req := &fakeRequest{MessageID: id, Op: op.Tag, Packet: op, Secure: secure}
	if len(pkt.Children) > 2 {
		for _, control := range pkt.Children[2].Children {
			if len(control.Children) > 0 {
				req.Controls = append(req.Controls, packetString(control.Children[0]))
			}
		}
	}
	return req, nil
}

// fakeResult builds a response message carrying an LDAPResult.
func fakeResult(id int64, op ber.Tag, code uint16, matchedDN, diag string, extra ...*ber.Packet) *ber.Packet {
	envelope := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "LDAP Response")
	envelope.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, id, "MessageID"))

	result := ber.Encode(ber.ClassApplication, ber.TypeConstructed, op, nil, "Response")
	result.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated, int64(code), "resultCode"))
	result.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, matchedDN, "matchedDN"))
	result.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, diag, "diagnosticMessage"))
	for _, child := range extra {
		result.AppendChild(child)
	}
	envelope.AppendChild(result)
	return envelope
}

// withResponseControls appends a controls element to a response message.
func withResponseControls(msg *ber.Packet, controls ...*ber.Packet) *ber.Packet {
	pkt := ber.Encode(ber.ClassContext, ber.TypeConstructed, 0, nil, "Controls")
	for _, control := range controls {
		pkt.AppendChild(control)
	}
	msg.AppendChild(pkt)
	return msg
}

// fakeControl builds a response control. A nil value omits the value element.
func fakeControl(oid string, critical bool, value []byte) *ber.Packet {
	pkt := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Control")
	pkt.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, oid, "Control Type"))
	if critical {
		pkt.AppendChild(ber.NewBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean, true, "Criticality"))
	}
	if value != nil {
		pkt.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, string(value), "Control Value"))
	}
	return pkt
}

// passwordPolicyValue encodes a draft-behera PasswordPolicyResponseValue.
// A negative argument omits the element.
func passwordPolicyValue(expire, grace int64, policyErr int) []byte {
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "PasswordPolicyResponseValue")
	if expire >= 0 || grace >= 0 {
		warning := ber.Encode(ber.ClassContext, ber.TypeConstructed, 0, nil, "warning")
		if expire >= 0 {
			warning.AppendChild(ber.NewInteger(ber.ClassContext, ber.TypePrimitive, 0, expire, "timeBeforeExpiration"))
		} else {
			warning.AppendChild(ber.NewInteger(ber.ClassContext, ber.TypePrimitive, 1, grace, "graceAuthNsRemaining"))
		}
		seq.AppendChild(warning)
	}
	if policyErr >= 0 {
		seq.AppendChild(ber.NewInteger(ber.ClassContext, ber.TypePrimitive, 1, int64(policyErr), "error"))
	}
	return seq.Bytes()
}

func fakeReferrals(urls ...string) *ber.Packet {
	pkt := ber.Encode(ber.ClassContext, ber.TypeConstructed, 3, nil, "Referral")
	for _, url := range urls {
		pkt.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, url, "URI"))
	}
	return pkt
}

func fakeSASLCreds(creds string) *ber.Packet {
	return ber.NewString(ber.ClassContext, ber.TypePrimitive, 7, creds, "serverSaslCreds")
}

// fakeNotice builds a notice of disconnection.
func fakeNotice(code uint16, diag string) *ber.Packet {
	return fakeResult(0, ldap.ApplicationExtendedResponse, code, "", diag,
		ber.NewString(ber.ClassContext, ber.TypePrimitive, 10, ExtendedOperationDisconnect, "responseName"))
}

// generateTestCertificate returns a self-signed certificate for 127.0.0.1 and localhost.
func generateTestCertificate(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "ldapops test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:              []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}

// successHandler answers every request with success.
func successHandler(req *fakeRequest) []*ber.Packet {
	return []*ber.Packet{fakeResult(req.MessageID, responseTagFor(req.Op), ldap.LDAPResultSuccess, "", "")}
}

// responseTagFor returns the response tag matching a request tag.
func responseTagFor(op ber.Tag) ber.Tag {
	switch op {
	case ldap.ApplicationBindRequest:
		return ldap.ApplicationBindResponse
	case ldap.ApplicationCompareRequest:
		return ldap.ApplicationCompareResponse
	case ldap.ApplicationDelRequest:
		return ldap.ApplicationDelResponse
	default:
		return ldap.ApplicationExtendedResponse
	}
}
