package auth

import (
	"log/slog"
	"time"
)

// Credentials are the account login. They are supplied once and never logged.
type Credentials struct {
	Username string
	Password string
	ClientID string
}

// LogValue redacts the credentials if they are ever passed to a logger.
func (c Credentials) LogValue() slog.Value {
	return slog.StringValue("[redacted]")
}

func (c Credentials) String() string { return "[redacted]" }

// Session is the current token pair. A zero expiry on the refresh token means
// the server did not bound its lifetime.
type Session struct {
	AccessToken   string
	AccessExpiry  time.Time
	RefreshToken  string
	RefreshExpiry time.Time
}

func (s Session) accessValid(now time.Time, margin time.Duration) bool {
	return s.AccessToken != "" && now.Add(margin).Before(s.AccessExpiry)
}

func (s Session) refreshValid(now time.Time, margin time.Duration) bool {
	if s.RefreshToken == "" {
		return false
	}
	return s.RefreshExpiry.IsZero() || now.Add(margin).Before(s.RefreshExpiry)
}

// State is the token manager's lifecycle state.
type State int

const (
	Unauthenticated State = iota
	Authenticating
	Authenticated
	Refreshing
)

func (s State) String() string {
	switch s {
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Refreshing:
		return "refreshing"
	default:
		return "unauthenticated"
	}
}
