package config

import (
	"net"
	"net/url"
	"strconv"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultAgentHost and DefaultAgentPort are used when nothing else is configured.
	DefaultAgentHost = "127.0.0.1"
	DefaultAgentPort = 8126

	// DefaultAgentSocket is preferred over TCP when it exists and no host,
	// port or URL was configured.
	DefaultAgentSocket = "/var/run/datadog/apm.socket"
)

// AgentSettings are the user supplied ways of pointing at a local agent.
// Port is kept as a string so that invalid values can be reported instead
// of rejected at parse time.
type AgentSettings struct {
	URL  string
	Host string
	Port string
}

// ResolveAgentURL returns the agent base URL for s.
//
// A URL wins over host and port; a host and port that disagree with it are
// ignored with a warning. Invalid ports and unsupported URL schemes fall back
// to the defaults.
func ResolveAgentURL(s AgentSettings, socketExists func(string) bool) string {
	if s.URL != "" {
		u, err := url.Parse(s.URL)
		switch {
		case err != nil:
			log.Warnf("Ignoring invalid agent URL %q: %v", s.URL, err)
		case u.Scheme == "unix":
			return s.URL
		case u.Scheme != "http" && u.Scheme != "https":
			log.Warnf("Ignoring agent URL %q: unsupported scheme %q, expected http, https or unix",
				s.URL, u.Scheme)
		default:
			if s.Host != "" && s.Host != u.Hostname() {
				log.Warnf("Configuration mismatch: agent host %q differs from agent URL %q, using the URL",
					s.Host, s.URL)
			}
			if s.Port != "" && s.Port != u.Port() {
				log.Warnf("Configuration mismatch: agent port %q differs from agent URL %q, using the URL",
					s.Port, s.URL)
			}
			return s.URL
		}
	}

	port := DefaultAgentPort
	if s.Port != "" {
		p, err := strconv.Atoi(s.Port)
		if err != nil || p <= 0 || p > 65535 {
			log.Warnf("Ignoring invalid agent port %q, falling back to %d", s.Port, DefaultAgentPort)
		} else {
			port = p
		}
	}

	if s.Host == "" && s.Port == "" && s.URL == "" && socketExists != nil &&
		socketExists(DefaultAgentSocket) {
		return "unix://" + DefaultAgentSocket
	}

	host := s.Host
	if host == "" {
		host = DefaultAgentHost
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}
