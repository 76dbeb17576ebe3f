package relay

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Scheme prefixes accepted on a relay address. The secure ones keep TLS.
var schemePrefixes = []struct {
	prefix string
	scheme string
}{
	{"wss://", "wss"},
	{"https://", "wss"},
	{"ws://", "ws"},
	{"http://", "ws"},
}

// NormalizeTarget turns a user-supplied relay address into the canonical
// scheme://host:port form. address may be a bare host, host:port, or carry a
// ws/wss/http/https prefix; any path or query is discarded. An explicit port
// argument wins over one embedded in address; port 0 falls back to it.
//
// A secure prefix (wss, https) is kept as wss; everything else dials ws.
func NormalizeTarget(address string, port int) (string, error) {
	raw := strings.TrimSpace(address)
	if raw == "" {
		return "", fmt.Errorf("invalid relay address: empty")
	}

	scheme := "ws"
	lower := strings.ToLower(raw)
	for _, p := range schemePrefixes {
		if strings.HasPrefix(lower, p.prefix) {
			scheme = p.scheme
			raw = raw[len(p.prefix):]
			break
		}
	}
	if i := strings.IndexAny(raw, "/?#"); i >= 0 {
		raw = raw[:i]
	}

	host := raw
	if h, p, err := net.SplitHostPort(raw); err == nil {
		host = h
		if port == 0 {
			n, err := strconv.Atoi(p)
			if err != nil {
				return "", fmt.Errorf("invalid relay address %q: bad port %q", address, p)
			}
			port = n
		}
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if host == "" || strings.ContainsAny(host, " \t") {
		return "", fmt.Errorf("invalid relay address %q: missing host", address)
	}
	if port < 1 || port > 65535 {
		return "", fmt.Errorf("invalid relay address %q: port must be 1~65535", address)
	}

	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, strconv.Itoa(port))), nil
}
