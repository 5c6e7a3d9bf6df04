package goIdentity

import (
	"context"
	"time"

	"github.com/MrEthical07/goIdentity/provider"
)

// SecurityReport is a point-in-time summary of an identity's security
// posture, suitable for an account security page.
type SecurityReport struct {
	IdentityID string
	Status     IdentityStatus
	LockedUntil time.Time

	HasPassword     bool
	LinkedProviders []provider.Name

	OTPEnabled bool
	OTPMethod  OTPMethod

	BackupCodesRemaining int

	ActiveSessions int
	Devices        []TrustedDevice
	RecentLogins   []LoginRecord
}

// SecurityReport assembles the identity's security summary. Session
// counting is best effort: when the session backend is unreachable the
// count is -1 and the rest of the report still fills in.
func (e *Engine) SecurityReport(ctx context.Context, identityID string) (*SecurityReport, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	identity, err := e.store.FindByID(ctx, identityID)
	if err != nil {
		return nil, err
	}

	report := &SecurityReport{
		IdentityID:  identity.ID,
		Status:      identity.Status,
		LockedUntil: identity.LockedUntil,
		HasPassword: identity.HasPassword(),
		OTPEnabled:  identity.OtpSettings.Enabled,
		OTPMethod:   identity.OtpSettings.Method,
	}

	for _, l := range identity.SocialLinks {
		report.LinkedProviders = append(report.LinkedProviders, l.Provider)
	}
	for _, c := range identity.BackupCodes {
		if !c.Used {
			report.BackupCodesRemaining++
		}
	}

	report.Devices = make([]TrustedDevice, len(identity.TrustedDevices))
	copy(report.Devices, identity.TrustedDevices)
	report.RecentLogins = make([]LoginRecord, len(identity.LoginHistory))
	copy(report.RecentLogins, identity.LoginHistory)

	if ids, serr := e.sessions.Sessions(ctx, identity.ID); serr == nil {
		report.ActiveSessions = len(ids)
	} else {
		report.ActiveSessions = -1
	}

	return report, nil
}
