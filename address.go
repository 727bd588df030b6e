package caddyfile

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Address is the decomposed form of a site label, such as https://*.example.com:8443/api.
type Address struct {
	Scheme   string
	Host     string
	Port     int // Zero if the label has no port.
	Path     string
	IPv6     bool
	Wildcard bool
}

// Errors returned by ParseAddress for labels that are valid Caddyfile but are not addresses.
var (
	ErrSnippetLabel     = errors.New("label names a snippet")
	ErrPlaceholderLabel = errors.New("label contains a placeholder")
)

// ParseAddress decomposes a site label into an Address.
//
// ParseAddress is best-effort: a label it cannot decompose is still a valid label, and callers
// should keep the raw text and treat the error as a reason to leave derived fields empty.
func ParseAddress(label string) (*Address, error) {
	switch {
	case label == "":
		return nil, errors.New("empty label")
	case label[0] == '(':
		return nil, ErrSnippetLabel
	case label[0] == rDoubleQuote || label[0] == rBackQuote:
		return nil, errors.New("quoted label")
	case strings.ContainsAny(label, "{}"):
		return nil, ErrPlaceholderLabel
	case strings.ContainsAny(label, " \t\r\n,"):
		return nil, errors.New("label contains a separator")
	}

	addr := &Address{}
	rest := label
	if i := strings.Index(rest, "://"); i >= 0 {
		addr.Scheme, rest = rest[:i], rest[i+3:]
		if addr.Scheme == "" {
			return nil, errors.New("empty scheme")
		}
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest, addr.Path = rest[:i], rest[i:]
	}

	var port string
	switch {
	case strings.HasPrefix(rest, "["):
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return nil, errors.New("unclosed IPv6 bracket")
		}
		addr.Host, addr.IPv6 = rest[1:end], true
		if rem := rest[end+1:]; rem != "" {
			if rem[0] != ':' {
				return nil, fmt.Errorf("unexpected %q after IPv6 address", rem)
			}
			port = rem[1:]
			if port == "" {
				return nil, errors.New("empty port")
			}
		}
	case strings.Contains(rest, ":"):
		i := strings.LastIndexByte(rest, ':')
		addr.Host, port = rest[:i], rest[i+1:]
		if strings.Contains(addr.Host, ":") {
			return nil, errors.New("IPv6 address must be in brackets")
		}
		if port == "" {
			return nil, errors.New("empty port")
		}
	default:
		addr.Host = rest
	}

	if port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", port)
		}
		addr.Port = int(n)
	}

	if addr.Scheme == "" && addr.Host == "" && addr.Port == 0 {
		return nil, errors.New("label has no address")
	}
	addr.Wildcard = strings.Contains(addr.Host, "*")
	return addr, nil
}

// String reassembles the address. The result is not guaranteed to equal the label it was parsed
// from.
func (a *Address) String() string {
	var sb strings.Builder
	if a.Scheme != "" {
		sb.WriteString(a.Scheme)
		sb.WriteString("://")
	}
	if a.IPv6 {
		sb.WriteString("[" + a.Host + "]")
	} else {
		sb.WriteString(a.Host)
	}
	if a.Port != 0 {
		sb.WriteString(":" + strconv.Itoa(a.Port))
	}
	sb.WriteString(a.Path)
	return sb.String()
}
