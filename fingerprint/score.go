package fingerprint

import (
	"net"
	"strings"
)

// RiskLevel buckets a suspicion score.
type RiskLevel uint8

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Suspicion is an additive anomaly score with the signals that
// contributed to it. Score 0 is a fully ordinary request.
type Suspicion struct {
	Score int
	Flags []string
	Risk  RiskLevel
}

const (
	riskMediumFloor = 25
	riskHighFloor   = 50
)

// automation markers checked as lowercase substrings of the user agent.
var automationUA = []string{
	"bot", "crawler", "spider", "curl", "wget", "python-requests",
	"python/", "go-http-client", "okhttp", "headless", "phantomjs",
	"scrapy", "httpclient", "libwww",
}

// Score rates the signal bag. Weights are additive; each triggered check
// appends a flag so callers can log what fired.
func Score(s Signals) Suspicion {
	var sus Suspicion

	ua := strings.ToLower(s.header("User-Agent"))
	switch {
	case ua == "":
		sus.add(30, "missing_user_agent")
	case isAutomationUA(ua):
		sus.add(40, "automation_user_agent")
	case len(ua) < 20:
		sus.add(15, "short_user_agent")
	}

	if s.header("Accept") == "" {
		sus.add(10, "missing_accept")
	}
	if s.header("Accept-Language") == "" {
		sus.add(10, "missing_accept_language")
	}
	if s.header("Accept-Encoding") == "" {
		sus.add(10, "missing_accept_encoding")
	}

	if fwd := s.header("X-Forwarded-For"); strings.Count(fwd, ",") >= 3 {
		sus.add(15, "long_proxy_chain")
	}

	if isDatacenterAddr(s.RemoteAddr) {
		sus.add(20, "datacenter_address")
	}

	switch {
	case sus.Score >= riskHighFloor:
		sus.Risk = RiskHigh
	case sus.Score >= riskMediumFloor:
		sus.Risk = RiskMedium
	default:
		sus.Risk = RiskLow
	}
	return sus
}

func (s *Suspicion) add(weight int, flag string) {
	s.Score += weight
	s.Flags = append(s.Flags, flag)
}

func isAutomationUA(ua string) bool {
	for _, marker := range automationUA {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}

// datacenterRanges are well-known cloud egress blocks. The list is a
// heuristic, not a registry; misses simply score 0.
var datacenterRanges = func() []*net.IPNet {
	cidrs := []string{
		"3.0.0.0/8",      // AWS
		"13.52.0.0/14",   // AWS
		"34.64.0.0/10",   // GCP
		"35.184.0.0/13",  // GCP
		"20.33.0.0/16",   // Azure
		"40.74.0.0/15",   // Azure
		"104.16.0.0/13",  // Cloudflare
		"159.65.0.0/16",  // DigitalOcean
		"167.99.0.0/16",  // DigitalOcean
		"139.59.0.0/16",  // DigitalOcean
	}
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		if _, n, err := net.ParseCIDR(c); err == nil {
			nets = append(nets, n)
		}
	}
	return nets
}()

func isDatacenterAddr(addr string) bool {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range datacenterRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
