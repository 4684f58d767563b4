package ldap

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// ServerInfo identifies a directory server endpoint.
type ServerInfo struct {
	Host     string
	Port     int
	TLSMode  TLSMode
	Priority int
	Weight   int
	Source   string // "config", "srv" or "fallback"
}

// URL returns the LDAP URL of the server.
func (s *ServerInfo) URL() string {
	scheme := "ldap"
	if s.TLSMode == TLSModeDirect {
		scheme = "ldaps"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(s.Host, strconv.Itoa(s.Port)))
}

// Apply points opts at the server. A server reached over LDAPS overrides the
// TLS mode; a plain server keeps any StartTLS request.
func (s *ServerInfo) Apply(opts *ConnectionOptions) {
	opts.Host = s.Host
	opts.Port = s.Port
	if s.TLSMode == TLSModeDirect {
		opts.TLSMode = TLSModeDirect
	}
}

// ValidateServerInfo validates server information.
func ValidateServerInfo(server *ServerInfo) error {
	if server == nil {
		return fmt.Errorf("server info cannot be nil")
	}

	if server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	if server.Port <= 0 || server.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", server.Port)
	}

	if server.Priority < 0 {
		return fmt.Errorf("priority cannot be negative: %d", server.Priority)
	}

	if server.Weight < 0 {
		return fmt.Errorf("weight cannot be negative: %d", server.Weight)
	}

	return nil
}

// ParseLDAPURL parses an ldap:// or ldaps:// URL into ServerInfo. Any DN,
// attributes or extensions in the URL are ignored.
func ParseLDAPURL(rawURL string) (*ServerInfo, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("URL cannot be empty")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid LDAP URL: %w", err)
	}

	server := &ServerInfo{
		Host:   parsed.Hostname(),
		Weight: 100,
		Source: "config",
	}

	switch strings.ToLower(parsed.Scheme) {
	case "ldaps":
		server.TLSMode = TLSModeDirect
		server.Port = 636
	case "ldap":
		server.TLSMode = TLSModeNone
		server.Port = 389
	default:
		return nil, fmt.Errorf("unsupported scheme, must be ldap:// or ldaps://")
	}

	if portStr := parsed.Port(); portStr != "" {
		if server.Port, err = strconv.Atoi(portStr); err != nil {
			return nil, fmt.Errorf("invalid port number: %s", portStr)
		}
	}

	return server, ValidateServerInfo(server)
}

type srvResolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// SRVDiscovery locates directory servers for a domain using DNS SRV records.
type SRVDiscovery struct {
	resolver srvResolver
}

// NewSRVDiscovery creates a new SRV discovery instance.
func NewSRVDiscovery() *SRVDiscovery {
	return &SRVDiscovery{resolver: net.DefaultResolver}
}

// DiscoverServers returns the servers for domain in preference order.
// _ldaps._tcp records are preferred over _ldap._tcp; when neither exists the
// domain name itself is tried on the standard ports.
func (d *SRVDiscovery) DiscoverServers(ctx context.Context, domain string) ([]*ServerInfo, error) {
	if domain == "" {
		return nil, fmt.Errorf("domain cannot be empty")
	}

	start := time.Now()
	tflog.SubsystemDebug(ctx, "ldap", "Starting server discovery for domain", map[string]any{
		"domain": domain,
	})

	services := []struct {
		service string
		tlsMode TLSMode
	}{
		{"ldaps", TLSModeDirect},
		{"ldap", TLSModeNone},
	}

	var servers []*ServerInfo
	for _, svc := range services {
		found, err := d.lookupSRV(ctx, svc.service, domain, svc.tlsMode)
		if err != nil {
			tflog.SubsystemDebug(ctx, "ldap", "SRV lookup failed, continuing to next service", map[string]any{
				"service": svc.service,
				"error":   err.Error(),
			})
			continue
		}
		servers = found
		break
	}

	if len(servers) == 0 {
		tflog.SubsystemDebug(ctx, "ldap", "No SRV records found, using fallback servers", map[string]any{
			"domain": domain,
		})
		return []*ServerInfo{
			{Host: domain, Port: 636, TLSMode: TLSModeDirect, Weight: 100, Source: "fallback"},
			{Host: domain, Port: 389, TLSMode: TLSModeNone, Priority: 1, Weight: 100, Source: "fallback"},
		}, nil
	}

	sortServersByPriority(servers)

	tflog.SubsystemDebug(ctx, "ldap", "Server discovery completed", map[string]any{
		"duration_ms":  time.Since(start).Milliseconds(),
		"server_count": len(servers),
	})
	return servers, nil
}

func (d *SRVDiscovery) lookupSRV(ctx context.Context, service, domain string, tlsMode TLSMode) ([]*ServerInfo, error) {
	_, records, err := d.resolver.LookupSRV(ctx, service, "tcp", domain)
	if err != nil {
		return nil, fmt.Errorf("SRV lookup failed for _%s._tcp.%s: %w", service, domain, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no SRV records found for _%s._tcp.%s", service, domain)
	}

	servers := make([]*ServerInfo, 0, len(records))
	for _, srv := range records {
		servers = append(servers, &ServerInfo{
			Host:     strings.TrimSuffix(srv.Target, "."),
			Port:     int(srv.Port),
			TLSMode:  tlsMode,
			Priority: int(srv.Priority),
			Weight:   int(srv.Weight),
			Source:   "srv",
		})
	}
	return servers, nil
}

// sortServersByPriority orders servers by ascending priority, then by
// descending weight.
func sortServersByPriority(servers []*ServerInfo) {
	sort.SliceStable(servers, func(i, j int) bool {
		if servers[i].Priority != servers[j].Priority {
			return servers[i].Priority < servers[j].Priority
		}
		return servers[i].Weight > servers[j].Weight
	})
}
