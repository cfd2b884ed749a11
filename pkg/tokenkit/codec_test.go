package tokenkit

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type fixedClock struct {
	timestamp time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.timestamp
}

var testReference = time.Unix(1700000000, 0).UTC()

func newTestCodec() *Codec {
	return New(Config{Clock: fixedClock{timestamp: testReference}})
}

func mintAccessToken(t *testing.T, userID string, expiresAt time.Time) string {
	t.Helper()
	claims := AccessClaims{
		UserID:    userID,
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        "jti-" + userID,
			IssuedAt:  jwt.NewNumericDate(testReference.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, signErr := token.SignedString([]byte("test-signing-key"))
	if signErr != nil {
		t.Fatalf("minting test token failed: %v", signErr)
	}
	return signed
}

func mintTokenWithoutExpiry(t *testing.T, userID string) string {
	t.Helper()
	claims := AccessClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: userID,
			ID:      "jti-" + userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, signErr := token.SignedString([]byte("test-signing-key"))
	if signErr != nil {
		t.Fatalf("minting test token failed: %v", signErr)
	}
	return signed
}

func TestDecodeMalformedInputNeverPanics(t *testing.T) {
	t.Parallel()

	codec := newTestCodec()
	malformedTokens := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"single segment", "abc"},
		{"two segments", "abc.def"},
		{"invalid base64 payload", "header.!!!.signature"},
		{"non json payload", "aGVhZGVy.aGVhZGVy.c2ln"},
		{"too many segments", "a.b.c.d"},
	}

	for _, testCase := range malformedTokens {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			payload, decodeErr := codec.Decode(testCase.token)
			if decodeErr == nil {
				t.Fatalf("expected decode error, got payload %+v", payload)
			}
			if !errors.Is(decodeErr, ErrInvalidToken) && !errors.Is(decodeErr, ErrMissingToken) {
				t.Fatalf("expected a codec sentinel, got %v", decodeErr)
			}
			if codec.IsValid(testCase.token) {
				t.Fatalf("malformed token must not be valid")
			}
		})
	}
}

func TestDecodeReturnsPayload(t *testing.T) {
	t.Parallel()

	codec := newTestCodec()
	expiresAt := testReference.Add(time.Hour)
	token := mintAccessToken(t, "user-42", expiresAt)

	payload, decodeErr := codec.Decode(token)
	if decodeErr != nil {
		t.Fatalf("unexpected decode error: %v", decodeErr)
	}
	if payload.UserID != "user-42" {
		t.Fatalf("expected user id user-42, got %q", payload.UserID)
	}
	if payload.TokenID != "jti-user-42" {
		t.Fatalf("expected token id jti-user-42, got %q", payload.TokenID)
	}
	if !payload.ExpiresAt.Equal(expiresAt.Truncate(time.Second)) {
		t.Fatalf("expected expiry %v, got %v", expiresAt, payload.ExpiresAt)
	}
}

func TestIsValidHonorsExpiry(t *testing.T) {
	t.Parallel()

	codec := newTestCodec()

	if !codec.IsValid(mintAccessToken(t, "user", testReference.Add(time.Hour))) {
		t.Fatalf("token expiring in the future must be valid")
	}
	if codec.IsValid(mintAccessToken(t, "user", testReference.Add(-time.Hour))) {
		t.Fatalf("token expired in the past must be invalid")
	}
	if codec.IsValid(mintTokenWithoutExpiry(t, "user")) {
		t.Fatalf("token without exp must be invalid")
	}
}

func TestTimeRemainingClampsToZero(t *testing.T) {
	t.Parallel()

	codec := newTestCodec()

	remaining, ok := codec.TimeRemaining(mintAccessToken(t, "user", testReference.Add(90*time.Second)))
	if !ok {
		t.Fatalf("expected a remaining duration for a valid token")
	}
	if remaining != 90*time.Second {
		t.Fatalf("expected 90s remaining, got %v", remaining)
	}

	remaining, ok = codec.TimeRemaining(mintAccessToken(t, "user", testReference.Add(-time.Minute)))
	if !ok {
		t.Fatalf("expected the expired token to still decode")
	}
	if remaining != 0 {
		t.Fatalf("expected remaining clamped to zero, got %v", remaining)
	}

	if _, ok = codec.TimeRemaining("not-a-token"); ok {
		t.Fatalf("expected no remaining duration for a malformed token")
	}
	if _, ok = codec.TimeRemaining(mintTokenWithoutExpiry(t, "user")); ok {
		t.Fatalf("expected no remaining duration without an exp claim")
	}
}

func TestShouldRefreshWindow(t *testing.T) {
	t.Parallel()

	codec := newTestCodec()
	threshold := 5 * time.Minute

	testCases := []struct {
		name      string
		expiresAt time.Time
		expected  bool
	}{
		{"expiring in 60s", testReference.Add(60 * time.Second), true},
		{"expiring just inside the window", testReference.Add(threshold - time.Second), true},
		{"expiring exactly at the threshold", testReference.Add(threshold), false},
		{"plenty of lifetime left", testReference.Add(time.Hour), false},
		{"already expired", testReference.Add(-time.Minute), false},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			token := mintAccessToken(t, "user", testCase.expiresAt)
			if got := codec.ShouldRefresh(token, threshold); got != testCase.expected {
				t.Fatalf("ShouldRefresh = %v, want %v", got, testCase.expected)
			}
		})
	}
}

func TestShouldRefreshAfterSuccessfulRefresh(t *testing.T) {
	t.Parallel()

	codec := newTestCodec()

	nearExpiry := mintAccessToken(t, "user", testReference.Add(60*time.Second))
	if !codec.ShouldRefresh(nearExpiry, 5*time.Minute) {
		t.Fatalf("token with 60s left must be flagged for refresh")
	}

	refreshed := mintAccessToken(t, "user", testReference.Add(time.Hour))
	if codec.ShouldRefresh(refreshed, 5*time.Minute) {
		t.Fatalf("token with an hour left must not be flagged for refresh")
	}
}

func TestShouldRefreshDefaultsThreshold(t *testing.T) {
	t.Parallel()

	codec := newTestCodec()
	token := mintAccessToken(t, "user", testReference.Add(time.Minute))
	if !codec.ShouldRefresh(token, 0) {
		t.Fatalf("non-positive threshold must fall back to the default window")
	}
}

func TestShouldRefreshMalformedToken(t *testing.T) {
	t.Parallel()

	codec := newTestCodec()
	if codec.ShouldRefresh("garbage", 5*time.Minute) {
		t.Fatalf("malformed token must not be flagged for refresh")
	}
}
