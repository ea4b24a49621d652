package domain

import "time"

// Session represents a persisted login session. The single-active-session
// policy means creating a session deactivates the owner's other sessions, but
// deactivated rows are retained for history until the retention sweep.
type Session struct {
	ID            string
	AccountID     string
	IP            *string
	UserAgent     *string
	IssuedAt      time.Time
	LastSeenAt    time.Time
	Active        bool
	DeactivatedAt *time.Time
	EndReason     *string
}

// IsLive reports whether the session may still be used at the supplied moment
// given the idle timeout policy.
func (s Session) IsLive(at time.Time, idleTimeout time.Duration) bool {
	if !s.Active {
		return false
	}
	if idleTimeout <= 0 {
		return true
	}
	return s.LastSeenAt.Add(idleTimeout).After(at)
}

// Touch refreshes last-seen metadata when activity occurs.
func (s *Session) Touch(at time.Time, ip, userAgent *string) {
	s.LastSeenAt = at
	if ip != nil {
		ipCopy := *ip
		s.IP = &ipCopy
	}
	if userAgent != nil {
		uaCopy := *userAgent
		s.UserAgent = &uaCopy
	}
}
