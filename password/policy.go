package password

import (
	"errors"
	"unicode"
)

// Policy is the configurable password acceptance rule set.
type Policy struct {
	MinLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
}

// Check returns a descriptive error for the first rule the candidate
// violates, or nil when it passes.
func (p Policy) Check(candidate string) error {
	if len(candidate) < p.MinLength {
		return errors.New("password too short")
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range candidate {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSymbol = true
		}
	}

	switch {
	case p.RequireUpper && !hasUpper:
		return errors.New("password must include an uppercase letter")
	case p.RequireLower && !hasLower:
		return errors.New("password must include a lowercase letter")
	case p.RequireDigit && !hasDigit:
		return errors.New("password must include a digit")
	case p.RequireSymbol && !hasSymbol:
		return errors.New("password must include a symbol")
	}
	return nil
}
