package update

// AuthStatus enumerates the registry login progress.
type AuthStatus int

const (
	// AuthNotAttempted means no login was tried yet in this process.
	AuthNotAttempted AuthStatus = iota
	// AuthSucceeded means a login completed and credentials are cached by the runtime.
	AuthSucceeded
	// AuthFailed means the most recent login attempt was rejected.
	AuthFailed
)

// AuthState tracks whether the runtime holds working registry credentials.
// It distinguishes "never tried" from "tried and rejected" so pull fallbacks
// do not hammer the token endpoint after a definitive failure.
type AuthState struct {
	// Status is the current login progress.
	Status AuthStatus
	// Reason describes the rejection when Status is AuthFailed.
	Reason string
}

// MarkSucceeded records a completed login.
func (s *AuthState) MarkSucceeded() {
	s.Status = AuthSucceeded
	s.Reason = ""
}

// MarkFailed records a rejected login with the rejection reason.
func (s *AuthState) MarkFailed(reason string) {
	s.Status = AuthFailed
	s.Reason = reason
}

// LoggedIn reports whether a login already succeeded in this process.
func (s *AuthState) LoggedIn() bool {
	return s.Status == AuthSucceeded
}

// String returns the state for logs, including the failure reason when present.
func (s *AuthState) String() string {
	switch s.Status {
	case AuthNotAttempted:
		return "not-attempted"
	case AuthSucceeded:
		return "succeeded"
	case AuthFailed:
		if s.Reason != "" {
			return "failed: " + s.Reason
		}

		return "failed"
	default:
		return "unknown"
	}
}
