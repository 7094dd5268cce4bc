package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidateHost checks that host is a bare http(s) base URL. With production
// set, plain http is only accepted for loopback hosts so bearer tokens never
// leave the machine unencrypted.
func ValidateHost(host string, production bool) error {
	host = strings.TrimSpace(host)
	if host == "" {
		return fmt.Errorf("invalid host %q: host URL cannot be empty", host)
	}

	u, err := url.Parse(host)
	if err != nil {
		return fmt.Errorf("invalid host %q: %w", host, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid host %q: must be an http(s) URL", host)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid host %q: missing host", host)
	}
	if u.Path != "" && u.Path != "/" {
		return fmt.Errorf("invalid host %q: host must not include a path", host)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("invalid host %q: host must not include query or fragment", host)
	}
	if production && u.Scheme == "http" && !isLoopback(u.Hostname()) {
		return fmt.Errorf("invalid host %q: must use https in production (ENV=production)", host)
	}
	return nil
}

// Validate checks the settings that can be overridden after LoadFromEnv.
func (c *Config) Validate() error {
	return ValidateHost(c.Host, c.IsProduction())
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
