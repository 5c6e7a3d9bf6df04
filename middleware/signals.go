package middleware

import (
	"net/http"

	"github.com/MrEthical07/goIdentity/fingerprint"
)

// SignalsFromRequest collects the request signals the fingerprint engine
// derives device identity from. The header bag is copied; mutating the
// request afterwards does not affect the signals.
func SignalsFromRequest(r *http.Request) fingerprint.Signals {
	headers := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}
	return fingerprint.Signals{
		Headers:    headers,
		RemoteAddr: r.RemoteAddr,
	}
}
