package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"sort"
	"strings"
)

// Signals is the raw request signal bag: header values and the network
// address. Header names are matched case-insensitively.
type Signals struct {
	Headers    map[string]string
	RemoteAddr string
}

func (s Signals) header(name string) string {
	for k, v := range s.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Result is the derived device characterization.
type Result struct {
	DeviceID        string
	FingerprintHash string
	Suspicion       Suspicion
}

// deviceSignals are the low-entropy headers folded into the stable device
// identifier, in fixed order.
var deviceSignals = []string{
	"User-Agent",
	"Accept",
	"Accept-Language",
	"Accept-Encoding",
}

// Derive characterizes a device from its signal bag. It never fails.
func Derive(s Signals) Result {
	return Result{
		DeviceID:        deviceID(s),
		FingerprintHash: fingerprintHash(s),
		Suspicion:       Score(s),
	}
}

func deviceID(s Signals) string {
	var b strings.Builder
	for _, name := range deviceSignals {
		b.WriteString(s.header(name))
		b.WriteByte('|')
	}
	b.WriteString(networkClass(s.RemoteAddr))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

func fingerprintHash(s Signals) string {
	keys := make([]string, 0, len(s.Headers))
	for k := range s.Headers {
		keys = append(keys, strings.ToLower(k))
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(s.header(k))
		b.WriteByte('|')
	}
	b.WriteString(s.RemoteAddr)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// networkClass collapses the address to its routing neighborhood so that
// a roaming client keeps a stable device ID within one network. IPv4
// keeps the /24, IPv6 the first four groups.
func networkClass(addr string) string {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return host
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String()
	}
	return ip.Mask(net.CIDRMask(64, 128)).String()
}
