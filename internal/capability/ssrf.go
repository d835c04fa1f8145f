package capability

import (
	"context"
	"fmt"
	"net"
	"strings"
)

var blockedHostnames = map[string]bool{
	"localhost":                  true,
	"metadata.google.internal":   true,
	"metadata.aws.internal":      true,
	"instance-data":              true,
	"169.254.169.254":            true,
}

// allowedSchemes is the net_fetch scheme allowlist, replaceable via
// ConfigurePolicy so a deployment can, for example, disable plain
// http:// outright.
var allowedSchemes = map[string]bool{"http": true, "https": true}

// NetworkPolicy overrides net_fetch's scheme allowlist and adds extra
// blocked hostnames on top of the built-in cloud-metadata denylist.
type NetworkPolicy struct {
	AllowedSchemes   []string
	BlockedHostnames []string
}

// ConfigurePolicy applies p on top of the built-in defaults; nothing in
// this tree calls it, so the defaults apply unless a caller does. An
// empty AllowedSchemes leaves the default http/https allowlist untouched.
func ConfigurePolicy(p NetworkPolicy) {
	if len(p.AllowedSchemes) > 0 {
		allowedSchemes = make(map[string]bool, len(p.AllowedSchemes))
		for _, s := range p.AllowedSchemes {
			allowedSchemes[strings.ToLower(s)] = true
		}
	}
	for _, h := range p.BlockedHostnames {
		blockedHostnames[strings.ToLower(h)] = true
	}
}

// isSSRFTarget validates a net_fetch URL: scheme allowlist, hostname
// denylist, then DNS-resolution-based rejection of any private, loopback,
// unspecified, or link-local resolved address. Checking the resolved
// address (not just the hostname string) defeats DNS rebinding.
func isSSRFTarget(ctx context.Context, rawURL string) error {
	scheme := ""
	if idx := strings.Index(rawURL, "://"); idx >= 0 {
		scheme = strings.ToLower(rawURL[:idx])
	}
	if !allowedSchemes[scheme] {
		return fmt.Errorf("scheme %q is not allowed for net_fetch", scheme)
	}

	hostPort := extractHostFromURL(rawURL)
	hostname := hostPort
	if idx := strings.LastIndex(hostPort, ":"); idx >= 0 {
		hostname = hostPort[:idx]
	}

	if blockedHostnames[strings.ToLower(hostname)] {
		return fmt.Errorf("SSRF blocked: %s is a restricted hostname", hostname)
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, hostname)
	if err != nil {
		// Unresolvable host: let the eventual fetch fail naturally rather
		// than block here on a DNS hiccup.
		return nil
	}
	for _, addr := range addrs {
		ip := addr.IP
		if ip.IsLoopback() || ip.IsUnspecified() || isPrivateIP(ip) {
			return fmt.Errorf("SSRF blocked: %s resolves to private IP %s", hostname, ip)
		}
	}
	return nil
}

func isPrivateIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		switch {
		case v4[0] == 10:
			return true
		case v4[0] == 172 && v4[1] >= 16 && v4[1] <= 31:
			return true
		case v4[0] == 192 && v4[1] == 168:
			return true
		case v4[0] == 169 && v4[1] == 254:
			return true
		}
		return false
	}
	if len(ip) == net.IPv6len {
		// fc00::/7 (unique local) and fe80::/10 (link-local).
		return (ip[0]&0xfe) == 0xfc || (ip[0] == 0xfe && (ip[1]&0xc0) == 0x80)
	}
	return false
}

// extractHostFromURL returns "host:port" for a net_fetch URL, defaulting
// the port from the scheme when absent — used both for SSRF resolution
// and for the NetConnect capability target.
func extractHostFromURL(rawURL string) string {
	afterScheme := rawURL
	if idx := strings.Index(rawURL, "://"); idx >= 0 {
		afterScheme = rawURL[idx+3:]
	}
	hostPort := afterScheme
	if idx := strings.Index(afterScheme, "/"); idx >= 0 {
		hostPort = afterScheme[:idx]
	}
	if strings.Contains(hostPort, ":") {
		return hostPort
	}
	if strings.HasPrefix(rawURL, "https") {
		return hostPort + ":443"
	}
	return hostPort + ":80"
}
