package session

import "time"

// Session is one device-bound session record. RefreshHash is the SHA-256
// of the current refresh secret; the plaintext secret lives only inside
// the opaque refresh token held by the client.
//
// Verified/VerifiedAt/Purpose form the step-up verification window: they
// record whether, when, and for what purpose the session last re-proved
// its identity.
type Session struct {
	SessionID  string
	IdentityID string
	DeviceID   string

	RefreshHash [32]byte

	CreatedAt int64
	ExpiresAt int64

	Verified   bool
	VerifiedAt int64
	Purpose    string
}

// Expired reports whether the record is past its absolute lifetime.
func (s *Session) Expired(now time.Time) bool {
	return now.Unix() >= s.ExpiresAt
}

// StepUpValid reports whether the verification window is live at now for
// the given purpose. With strict off, any purpose satisfies the check.
func (s *Session) StepUpValid(now time.Time, purpose string, timeout time.Duration, strict bool) bool {
	if !s.Verified {
		return false
	}
	if now.Sub(time.Unix(s.VerifiedAt, 0)) >= timeout {
		return false
	}
	if strict && s.Purpose != purpose {
		return false
	}
	return true
}
