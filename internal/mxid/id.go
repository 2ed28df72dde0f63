// Package mxid parses and recomposes Matrix Common Identifiers:
// <sigil><localpart>[:<serverpart>], where serverpart is hostname[:port].
package mxid

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// Sigil identifies the kind of Common Identifier.
type Sigil byte

const (
	SigilNone  Sigil = 0
	SigilUser  Sigil = '@'
	SigilRoom  Sigil = '!'
	SigilEvent Sigil = '$'
	SigilAlias Sigil = '#'
	SigilGroup Sigil = '+'
)

func validSigil(b byte) bool {
	switch Sigil(b) {
	case SigilUser, SigilRoom, SigilEvent, SigilAlias, SigilGroup:
		return true
	}
	return false
}

// ServerPart is a parsed hostname[:port].
type ServerPart struct {
	Host string
	Port uint16 // 0 means "not specified"
}

// CommonID is a parsed Matrix Common Identifier.
type CommonID struct {
	Sigil  Sigil
	Local  string
	Server ServerPart // zero value if the original string had no serverpart
	hasSrv bool
}

var localpartPattern = regexp.MustCompile(`^[a-z0-9._=/-]+$`)

// ErrMalformed is returned for identifiers that cannot be parsed.
type ErrMalformed struct{ Input string }

func (e *ErrMalformed) Error() string {
	return fmt.Sprintf("mxid: malformed common identifier %q", e.Input)
}

// Parse parses a Common Identifier. If allowBare is true and s has no sigil
// and no server part, it is accepted as a legacy bare localpart with
// Sigil == SigilNone.
func Parse(s string, allowBare bool) (CommonID, error) {
	if s == "" {
		return CommonID{}, &ErrMalformed{s}
	}

	if !validSigil(s[0]) {
		if !allowBare {
			return CommonID{}, &ErrMalformed{s}
		}
		if strings.Contains(s, ":") {
			return CommonID{}, &ErrMalformed{s}
		}
		return CommonID{Sigil: SigilNone, Local: s}, nil
	}

	rest := s[1:]
	colon := strings.IndexByte(rest, ':')
	var local, serverStr string
	hasSrv := colon >= 0
	if hasSrv {
		local = rest[:colon]
		serverStr = rest[colon+1:]
	} else {
		local = rest
	}
	if local == "" {
		return CommonID{}, &ErrMalformed{s}
	}

	id := CommonID{Sigil: Sigil(s[0]), Local: local, hasSrv: hasSrv}
	if hasSrv {
		srv, err := ParseServerPart(serverStr)
		if err != nil {
			return CommonID{}, &ErrMalformed{s}
		}
		id.Server = srv
	}
	return id, nil
}

// ParseServerPart parses hostname[:port]. Hostname may be a DNS name or a
// literal IPv4/IPv6 address; it is kept as written (IDNA/punycode
// normalization happens only in ServerPartEquals).
func ParseServerPart(s string) (ServerPart, error) {
	host, portStr, err := splitHostPort(s)
	if err != nil {
		return ServerPart{}, err
	}

	var port uint16
	if portStr != "" {
		p, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return ServerPart{}, fmt.Errorf("mxid: invalid port %q: %w", portStr, err)
		}
		port = uint16(p)
	}

	// Host is kept exactly as written so Recompose round-trips byte for
	// byte; normalization only happens in ServerPartEquals, which compares
	// two parsed forms rather than reproducing the original string.
	return ServerPart{Host: host, Port: port}, nil
}

func splitHostPort(s string) (host, port string, err error) {
	if strings.HasPrefix(s, "[") {
		// IPv6 literal, optionally with a port: [::1]:8448
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return "", "", fmt.Errorf("mxid: unterminated IPv6 literal %q", s)
		}
		host = s[:end+1]
		remainder := s[end+1:]
		if remainder == "" {
			return host, "", nil
		}
		if !strings.HasPrefix(remainder, ":") {
			return "", "", fmt.Errorf("mxid: malformed server part %q", s)
		}
		return host, remainder[1:], nil
	}

	if idx := strings.LastIndexByte(s, ':'); idx >= 0 && !strings.Contains(s[idx+1:], ":") {
		return s[:idx], s[idx+1:], nil
	}
	return s, "", nil
}

func normalizeHost(host string) (string, error) {
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		if net.ParseIP(host[1:len(host)-1]) == nil {
			return "", fmt.Errorf("mxid: invalid IPv6 literal %q", host)
		}
		return host, nil
	}
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}
	norm, err := idna.Lookup.ToASCII(strings.ToLower(host))
	if err != nil {
		// Not every legal DNS label round-trips through strict IDNA
		// lookup (e.g. single-label hostnames used in test/dev setups);
		// fall back to a plain case fold rather than rejecting the name.
		return strings.ToLower(host), nil
	}
	return norm, nil
}

// ServerPartEquals reports whether id's server part refers to the same
// host as hostString, substituting the default port for https (443) when
// one side omits it.
func ServerPartEquals(a ServerPart, hostString string, defaultPort uint16) bool {
	b, err := ParseServerPart(hostString)
	if err != nil {
		return false
	}
	ap, bp := a.Port, b.Port
	if ap == 0 {
		ap = defaultPort
	}
	if bp == 0 {
		bp = defaultPort
	}

	ah, err := normalizeHost(a.Host)
	if err != nil {
		ah = strings.ToLower(a.Host)
	}
	bh, err := normalizeHost(b.Host)
	if err != nil {
		bh = strings.ToLower(b.Host)
	}
	return ah == bh && ap == bp
}

// Recompose reconstructs the original string form of id. An omitted server
// part stays omitted.
func Recompose(id CommonID) string {
	var b strings.Builder
	if id.Sigil != SigilNone {
		b.WriteByte(byte(id.Sigil))
	}
	b.WriteString(id.Local)
	if id.hasSrv {
		b.WriteByte(':')
		b.WriteString(id.Server.Host)
		if id.Server.Port != 0 {
			b.WriteByte(':')
			b.WriteString(strconv.FormatUint(uint64(id.Server.Port), 10))
		}
	}
	return b.String()
}

// ValidLocalpart reports whether lp matches the localpart grammar
// [a-z0-9._=/-]+.
func ValidLocalpart(lp string) bool {
	return lp != "" && localpartPattern.MatchString(lp)
}

// Format builds a Common Identifier string from its parts without parsing,
// e.g. for minting @localpart:serverName user IDs.
func Format(sigil Sigil, local, serverName string) string {
	if serverName == "" {
		return fmt.Sprintf("%c%s", sigil, local)
	}
	return fmt.Sprintf("%c%s:%s", sigil, local, serverName)
}
