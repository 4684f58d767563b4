package cli

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
)

type recordedRequest struct {
	Op       ber.Tag
	DN       string
	Password string
	Controls []string
}

// testServer is a loopback directory server answering binds, compares and
// deletes with scripted result codes.
type testServer struct {
	listener net.Listener
	codes    map[string]uint16

	mu       sync.Mutex
	requests []recordedRequest
	wg       sync.WaitGroup
}

func startTestServer(t *testing.T, codes map[string]uint16) *testServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &testServer{listener: ln, codes: codes}
	s.wg.Add(1)
	go s.serve()

	t.Cleanup(func() {
		_ = ln.Close()
		s.wg.Wait()
	})
	return s
}

func (s *testServer) port() string {
	return strconv.Itoa(s.listener.Addr().(*net.TCPAddr).Port)
}

func (s *testServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *testServer) handle(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	for {
		packet, err := ber.ReadPacket(conn)
		if err != nil || len(packet.Children) < 2 {
			return
		}

		id, _ := packet.Children[0].Value.(int64)
		op := packet.Children[1]
		controls := controlOIDs(packet)

		var reply *ber.Packet
		switch op.Tag {
		case ldap.ApplicationUnbindRequest:
			return
		case ldap.ApplicationBindRequest:
			req := recordedRequest{Op: op.Tag}
			if len(op.Children) >= 3 {
				req.DN, _ = op.Children[1].Value.(string)
				req.Password = op.Children[2].Data.String()
			}
			s.record(req)
			reply = testResult(id, ldap.ApplicationBindResponse, ldap.LDAPResultSuccess)
		case ldap.ApplicationDelRequest:
			dn := op.Data.String()
			s.record(recordedRequest{Op: op.Tag, DN: dn, Controls: controls})
			reply = testResult(id, ldap.ApplicationDelResponse, s.codes[dn])
		case ldap.ApplicationCompareRequest:
			var dn string
			if len(op.Children) > 0 {
				dn, _ = op.Children[0].Value.(string)
			}
			s.record(recordedRequest{Op: op.Tag, DN: dn, Controls: controls})
			code, ok := s.codes[dn]
			if !ok {
				code = ldap.LDAPResultCompareTrue
			}
			reply = testResult(id, ldap.ApplicationCompareResponse, code)
		default:
			return
		}

		if _, err := conn.Write(reply.Bytes()); err != nil {
			return
		}
	}
}

// controlOIDs returns the OIDs of the controls attached to a request.
func controlOIDs(packet *ber.Packet) []string {
	if len(packet.Children) < 3 {
		return nil
	}
	var oids []string
	for _, control := range packet.Children[2].Children {
		if len(control.Children) > 0 {
			oid, _ := control.Children[0].Value.(string)
			oids = append(oids, oid)
		}
	}
	return oids
}

func (s *testServer) record(req recordedRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
}

func (s *testServer) Requests() []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedRequest(nil), s.requests...)
}

func testResult(id int64, tag ber.Tag, code uint16) *ber.Packet {
	msg := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "LDAP Response")
	msg.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, id, "MessageID"))

	op := ber.Encode(ber.ClassApplication, ber.TypeConstructed, tag, nil, "Response")
	op.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated, int64(code), "resultCode"))
	op.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, "", "matchedDN"))
	op.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, "", "diagnosticMessage"))
	msg.AppendChild(op)

	return msg
}

// closedPort returns a loopback port nothing listens on.
func closedPort(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
	_ = ln.Close()
	return port
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()

	n, err := strconv.Atoi(s)
	if err != nil {
		t.Fatalf("atoi %q: %v", s, err)
	}
	return n
}
