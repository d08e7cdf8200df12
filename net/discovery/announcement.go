// Package discovery implements peer discovery over a broadcast datagram channel.
// Announce: a node periodically sends its own address as plain text to the broadcast destination.
// Listen: a listener receives announcements and records the announced addresses in a peer directory.
package discovery

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"unicode/utf8"
)

var ErrMalformedAnnouncement = errors.New("malformed announcement")

// Maximum announcement size we accept, also used as the receive buffer size
const maxAnnouncementSize = 1024

// Announcement is the decoded content of a discovery datagram: "<host>" or "<host>:<port>".
type Announcement struct {
	Host string
	Port int // 0 when the announcement carries no port
}

// Address returns the announced endpoint in its wire form.
func (a Announcement) Address() string {
	if a.Port == 0 {
		return a.Host
	}
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

func (a Announcement) String() string {
	return a.Address()
}

func (a Announcement) Encode() []byte {
	return []byte(a.Address())
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedAnnouncement, fmt.Sprintf(format, args...))
}

// Decode parses a discovery datagram. Surrounding whitespace is ignored.
func Decode(data []byte) (Announcement, error) {
	if len(data) > maxAnnouncementSize {
		return Announcement{}, malformed("too long (%d bytes)", len(data))
	}
	if !utf8.Valid(data) {
		return Announcement{}, malformed("not valid text")
	}

	s := strings.TrimSpace(string(data))
	if s == "" {
		return Announcement{}, malformed("empty")
	}

	// A bare IPv6 address contains colons but no port
	if ip := net.ParseIP(s); ip != nil {
		return Announcement{Host: ip.String()}, nil
	}

	if !strings.Contains(s, ":") {
		if !validHostname(s) {
			return Announcement{}, malformed("invalid host %q", s)
		}
		return Announcement{Host: s}, nil
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Announcement{}, malformed("%v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Announcement{}, malformed("invalid port %q", portStr)
	}
	if ip := net.ParseIP(host); ip != nil {
		return Announcement{Host: ip.String(), Port: port}, nil
	}
	if !validHostname(host) {
		return Announcement{}, malformed("invalid host %q", host)
	}
	return Announcement{Host: host, Port: port}, nil
}

// validHostname checks RFC 1123 label syntax.
func validHostname(s string) bool {
	if len(s) == 0 || len(s) > 253 {
		return false
	}
	for _, label := range strings.Split(s, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, c := range label {
			switch {
			case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
			default:
				return false
			}
		}
	}
	return true
}
