package model

// Settings are the operator's console preferences.
type Settings struct {
	// ApprovalCountdown is the delay in seconds before an approval is
	// committed. Zero commits immediately.
	ApprovalCountdown    int  `json:"approval_countdown"`
	AutoRefresh          bool `json:"auto_refresh"`
	RefreshIntervalMs    int  `json:"refresh_interval"`
	DarkMode             bool `json:"dark_mode"`
	NotificationsEnabled bool `json:"notifications_enabled"`
}

// DefaultSettings returns the settings used before the operator saves any.
func DefaultSettings() Settings {
	return Settings{
		ApprovalCountdown:    5,
		AutoRefresh:          true,
		RefreshIntervalMs:    5000,
		DarkMode:             true,
		NotificationsEnabled: true,
	}
}

// Validate returns field errors for out-of-range values.
func (s Settings) Validate() []FieldError {
	var errs []FieldError
	if s.ApprovalCountdown < 0 || s.ApprovalCountdown > 60 {
		errs = append(errs, FieldError{
			Field:   "approval_countdown",
			Code:    "RANGE",
			Message: "must be between 0 and 60 seconds",
		})
	}
	if s.RefreshIntervalMs < 1000 || s.RefreshIntervalMs > 300000 {
		errs = append(errs, FieldError{
			Field:   "refresh_interval",
			Code:    "RANGE",
			Message: "must be between 1000 and 300000 milliseconds",
		})
	}
	return errs
}

// SessionUser identifies the signed-in operator.
type SessionUser struct {
	Username string `json:"username"`
}

// SessionAuth is the persisted sign-in state. SessionID identifies the
// sign-in that issued the current session tokens.
type SessionAuth struct {
	IsAuthenticated bool         `json:"isAuthenticated"`
	User            *SessionUser `json:"user,omitempty"`
	SessionID       string       `json:"session_id,omitempty"`
}
