package netutil

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// maxRangeSize caps one "host:lo-hi" candidate expression.
const maxRangeSize = 1024

// SelectBindAddr returns preferred when it can be listened on, otherwise the
// first free candidate when autoFallback is set.
func SelectBindAddr(preferred string, candidates []string, autoFallback bool) (string, error) {
	if preferred != "" {
		ok, err := IsAddrAvailable(preferred)
		if err != nil {
			return "", err
		}
		if ok {
			return preferred, nil
		}
		if !autoFallback {
			return "", fmt.Errorf("preferred bind address in use: %s", preferred)
		}
	}

	for _, addr := range candidates {
		if addr == preferred {
			continue
		}
		ok, err := IsAddrAvailable(addr)
		if err != nil {
			return "", err
		}
		if ok {
			return addr, nil
		}
	}

	return "", errors.New("no available bind addresses")
}

// IsAddrAvailable returns true when an address can be listened on.
func IsAddrAvailable(addr string) (bool, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false, nil
	}
	if closeErr := ln.Close(); closeErr != nil {
		return false, closeErr
	}
	return true, nil
}

// ExpandCandidates turns entries like "127.0.0.1:9341-9343" into one address
// per port. Plain "host:port" entries pass through unchanged.
func ExpandCandidates(entries []string) ([]string, error) {
	var out []string
	for _, entry := range entries {
		host, ports, err := net.SplitHostPort(strings.TrimSpace(entry))
		if err != nil {
			return nil, fmt.Errorf("bind candidate %q: %w", entry, err)
		}
		lo, hi, isRange := strings.Cut(ports, "-")
		if !isRange {
			if _, err := parsePort(ports); err != nil {
				return nil, fmt.Errorf("bind candidate %q: %w", entry, err)
			}
			out = append(out, net.JoinHostPort(host, ports))
			continue
		}
		from, err := parsePort(lo)
		if err != nil {
			return nil, fmt.Errorf("bind candidate %q: %w", entry, err)
		}
		to, err := parsePort(hi)
		if err != nil {
			return nil, fmt.Errorf("bind candidate %q: %w", entry, err)
		}
		if to < from || to-from >= maxRangeSize {
			return nil, fmt.Errorf("bind candidate %q: bad port range", entry)
		}
		for p := from; p <= to; p++ {
			out = append(out, net.JoinHostPort(host, strconv.Itoa(p)))
		}
	}
	return out, nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil || p < 1 || p > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return p, nil
}
