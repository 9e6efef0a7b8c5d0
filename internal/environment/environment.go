// Package environment classifies the hosting context of a page as local
// development or deployed.
package environment

import (
	"net"
	"net/url"
	"strings"
)

// Classification is the outcome of Detect.
type Classification int

const (
	Deployed Classification = iota
	LocalDevelopment
)

func (c Classification) String() string {
	if c == LocalDevelopment {
		return "local-development"
	}
	return "deployed"
}

var localHostnames = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"0.0.0.0":   true,
}

// devPortLeadingDigits covers the 3000/4000/5000/8000/9000 ranges used by
// dev servers.
const devPortLeadingDigits = "34589"

// IsLocalHostname reports whether hostname names the developer's machine.
func IsLocalHostname(hostname string) bool {
	h := strings.ToLower(strings.TrimSuffix(hostname, "."))
	return localHostnames[h] || strings.HasSuffix(h, ".local")
}

// IsDevPort reports whether port looks like a development server port.
func IsDevPort(port string) bool {
	if port == "" {
		return false
	}
	return strings.IndexByte(devPortLeadingDigits, port[0]) >= 0
}

// IsLocalDevelopment reports whether the page is served by local tooling.
// Both the hostname and the port must match, so a production host on a high
// port is not misclassified.
func IsLocalDevelopment(hostname, port string) bool {
	return IsLocalHostname(hostname) && IsDevPort(port)
}

// Detect classifies a page URL. Unparseable input is treated as deployed.
func Detect(rawURL string) Classification {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return Deployed
	}
	host, port := u.Hostname(), u.Port()
	if IsLocalDevelopment(host, port) {
		return LocalDevelopment
	}
	return Deployed
}

// SplitHostPort is a lenient net.SplitHostPort: a bare host yields an
// empty port instead of an error.
func SplitHostPort(hostport string) (host, port string) {
	h, p, err := net.SplitHostPort(hostport)
	if err != nil {
		return strings.Trim(hostport, "[]"), ""
	}
	return h, p
}
