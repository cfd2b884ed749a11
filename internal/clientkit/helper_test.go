package clientkit

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/expensekit/pkg/tokenkit"
	"go.uber.org/zap/zaptest"
)

type fixedClock struct {
	timestamp time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.timestamp
}

var testReference = time.Unix(1700000000, 0).UTC()

func newTestCodec() *tokenkit.Codec {
	return tokenkit.New(tokenkit.Config{Clock: fixedClock{timestamp: testReference}})
}

func mintAccessToken(t *testing.T, userID string, expiresAt time.Time) string {
	t.Helper()
	claims := tokenkit.AccessClaims{
		UserID:    userID,
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        "jti-" + userID,
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

func testUser(id string) User {
	return User{
		ID:       id,
		Email:    id + "@example.com",
		Username: id,
	}
}

// refreshServer is a fake token-refresh endpoint that counts upstream calls.
type refreshServer struct {
	server     *httptest.Server
	calls      atomic.Int64
	nextAccess func() string
	// nextRefresh, when non-nil, rotates the refresh token.
	nextRefresh func() string
	// failWith, when non-zero, makes the endpoint answer that status.
	failWith atomic.Int64
	// delay slows the handler down so concurrent callers overlap.
	delay time.Duration
}

func newRefreshServer(t *testing.T, nextAccess func() string) *refreshServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fake := &refreshServer{nextAccess: nextAccess}
	router := gin.New()
	router.POST("/accounts/token/refresh/", func(contextGin *gin.Context) {
		fake.calls.Add(1)
		if fake.delay > 0 {
			time.Sleep(fake.delay)
		}
		if status := fake.failWith.Load(); status != 0 {
			contextGin.JSON(int(status), gin.H{"detail": "refresh rejected"})
			return
		}
		var inbound struct {
			Refresh string `json:"refresh"`
		}
		if bindErr := contextGin.BindJSON(&inbound); bindErr != nil || inbound.Refresh == "" {
			contextGin.JSON(http.StatusBadRequest, gin.H{"detail": "refresh token required"})
			return
		}
		payload := gin.H{"access": fake.nextAccess()}
		if fake.nextRefresh != nil {
			payload["refresh"] = fake.nextRefresh()
		}
		contextGin.JSON(http.StatusOK, payload)
	})

	fake.server = httptest.NewServer(router)
	t.Cleanup(fake.server.Close)
	return fake
}

func (fake *refreshServer) url() string {
	return fake.server.URL + "/accounts/token/refresh/"
}

func newTestStore(t *testing.T, storage Storage, refreshURL string) *Store {
	t.Helper()
	store, storeErr := NewStore(StoreConfig{
		Storage:    storage,
		RefreshURL: refreshURL,
		Codec:      newTestCodec(),
		Logger:     zaptest.NewLogger(t),
	})
	if storeErr != nil {
		t.Fatalf("building store failed: %v", storeErr)
	}
	return store
}
