package goIdentity

// Operation names evaluated against the policy rule set.
const (
	OpLogin             = "login"
	OpPasswordChange    = "password_change"
	OpOTPSettingsChange = "otp_settings_change"
	OpDeviceTrust       = "device_trust"
	OpDeviceRemove      = "device_remove"
	OpBackupCodes       = "backup_codes_generate"
	OpRevokeAllSessions = "sessions_revoke_all"
)

// PolicyDecision is the outcome of evaluating an operation against the
// rule set.
type PolicyDecision uint8

const (
	// DecisionAllow permits the operation with the current session alone.
	DecisionAllow PolicyDecision = iota
	// DecisionStepUp requires a live step-up verification window.
	DecisionStepUp
	// DecisionDeny refuses the operation outright.
	DecisionDeny
)

// PolicyRule matches a set of operations to a decision. Rules are data:
// evaluation walks the ordered list and the first matching rule wins.
// "*" in Operations matches everything.
type PolicyRule struct {
	Name       string
	Operations []string
	Decision   PolicyDecision
}

func (r PolicyRule) matches(op string) bool {
	for _, o := range r.Operations {
		if o == "*" || o == op {
			return true
		}
	}
	return false
}

// DefaultPolicy gates the sensitive account operations behind step-up
// verification and allows everything else.
func DefaultPolicy() []PolicyRule {
	return []PolicyRule{
		{
			Name: "sensitive-ops-require-step-up",
			Operations: []string{
				OpPasswordChange,
				OpOTPSettingsChange,
				OpDeviceTrust,
				OpDeviceRemove,
				OpBackupCodes,
				OpRevokeAllSessions,
			},
			Decision: DecisionStepUp,
		},
		{
			Name:       "default-allow",
			Operations: []string{"*"},
			Decision:   DecisionAllow,
		},
	}
}

// evaluatePolicy returns the decision of the first rule matching op.
// An operation no rule matches is denied.
func evaluatePolicy(rules []PolicyRule, op string) PolicyDecision {
	for _, r := range rules {
		if r.matches(op) {
			return r.Decision
		}
	}
	return DecisionDeny
}
