package tokenkit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now returns the current UTC timestamp.
func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// DefaultRefreshThreshold is the remaining-lifetime window below which an
// access token is flagged for proactive refresh.
const DefaultRefreshThreshold = 5 * time.Minute

// Sentinel errors exposed by the codec. A missing exp claim is not a
// decode error; IsValid and TimeRemaining report it through their return
// values instead.
var (
	ErrMissingToken = errors.New("tokenkit.missing_token")
	ErrInvalidToken = errors.New("tokenkit.invalid_token")
)

// AccessClaims is the payload embedded inside access tokens issued by the
// expense-tracker API.
type AccessClaims struct {
	UserID    string `json:"user_id"`
	TokenType string `json:"token_type,omitempty"`
	jwt.RegisteredClaims
}

// Payload is the decoded view of an access token.
type Payload struct {
	UserID    string
	ExpiresAt time.Time
	TokenID   string
}

// Config configures a Codec.
type Config struct {
	Clock Clock
}

// Codec decodes and inspects bearer access tokens without verifying their
// signature. Verification is the server's job; the client only reads the
// claims it needs for scheduling refreshes.
type Codec struct {
	clock  Clock
	parser *jwt.Parser
}

// New constructs a Codec. A nil Clock falls back to the system UTC clock.
func New(configuration Config) *Codec {
	clock := configuration.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &Codec{
		clock:  clock,
		parser: jwt.NewParser(),
	}
}

// Decode structurally parses the token and returns its payload. Malformed
// segments, invalid base64url encoding, or non-JSON claims all yield
// ErrInvalidToken; Decode never panics.
func (codec *Codec) Decode(tokenString string) (*Payload, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("tokenkit.decode: %w", ErrMissingToken)
	}
	claims := &AccessClaims{}
	if _, _, parseErr := codec.parser.ParseUnverified(tokenString, claims); parseErr != nil {
		return nil, fmt.Errorf("tokenkit.decode: %w", ErrInvalidToken)
	}
	payload := &Payload{
		UserID:  claims.UserID,
		TokenID: claims.ID,
	}
	if claims.ExpiresAt != nil {
		payload.ExpiresAt = claims.ExpiresAt.Time
	}
	return payload, nil
}

// IsValid reports whether the token decodes and its expiry is strictly in
// the future. Tokens without an expiry claim are invalid.
func (codec *Codec) IsValid(tokenString string) bool {
	payload, decodeErr := codec.Decode(tokenString)
	if decodeErr != nil {
		return false
	}
	if payload.ExpiresAt.IsZero() {
		return false
	}
	return payload.ExpiresAt.After(codec.clock.Now())
}

// TimeRemaining returns the validity time left on the token, clamped to
// zero. The boolean is false when the token does not decode or carries no
// expiry claim.
func (codec *Codec) TimeRemaining(tokenString string) (time.Duration, bool) {
	payload, decodeErr := codec.Decode(tokenString)
	if decodeErr != nil {
		return 0, false
	}
	if payload.ExpiresAt.IsZero() {
		return 0, false
	}
	remaining := payload.ExpiresAt.Sub(codec.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// ShouldRefresh reports whether the token is still valid but inside the
// refresh window. An already-expired token is not flagged; the reactive
// 401 path handles it instead. A non-positive threshold falls back to
// DefaultRefreshThreshold.
func (codec *Codec) ShouldRefresh(tokenString string, threshold time.Duration) bool {
	if threshold <= 0 {
		threshold = DefaultRefreshThreshold
	}
	remaining, ok := codec.TimeRemaining(tokenString)
	if !ok {
		return false
	}
	return remaining > 0 && remaining < threshold
}
