package clientkit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
)

func TestInitWithoutRecordIsUnauthenticated(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, NewMemoryStorage(), "http://localhost/accounts/token/refresh/")
	if initErr := store.Init(); initErr != nil {
		t.Fatalf("unexpected init error: %v", initErr)
	}
	snapshot := store.Snapshot()
	if snapshot.Status != StatusUnauthenticated {
		t.Fatalf("expected unauthenticated status, got %v", snapshot.Status)
	}
	if snapshot.IsAuthenticated() {
		t.Fatalf("expected unauthenticated session")
	}
}

func TestSetAuthThenInitRestoresSession(t *testing.T) {
	t.Parallel()

	storage := NewMemoryStorage()
	store := newTestStore(t, storage, "http://localhost/accounts/token/refresh/")

	user := testUser("user-1")
	tokens := Tokens{
		Access:  mintAccessToken(t, "user-1", testReference.Add(time.Hour)),
		Refresh: "refresh-opaque",
	}
	if setErr := store.SetAuth(user, tokens); setErr != nil {
		t.Fatalf("unexpected SetAuth error: %v", setErr)
	}

	// A fresh store over the same storage simulates a process restart.
	restarted := newTestStore(t, storage, "http://localhost/accounts/token/refresh/")
	if initErr := restarted.Init(); initErr != nil {
		t.Fatalf("unexpected init error: %v", initErr)
	}
	snapshot := restarted.Snapshot()
	if !snapshot.IsAuthenticated() {
		t.Fatalf("expected restored session to be authenticated")
	}
	if snapshot.User != user {
		t.Fatalf("expected user %+v, got %+v", user, snapshot.User)
	}
	if snapshot.Tokens != tokens {
		t.Fatalf("expected tokens to round-trip")
	}
}

func TestInitDiscardsExpiredToken(t *testing.T) {
	t.Parallel()

	storage := NewMemoryStorage()
	record := persistedRecord{
		User: testUser("user-1"),
		Tokens: Tokens{
			Access:  mintAccessToken(t, "user-1", testReference.Add(-time.Minute)),
			Refresh: "refresh-opaque",
		},
	}
	data, _ := json.Marshal(record)
	if setErr := storage.Set(data); setErr != nil {
		t.Fatalf("seeding storage failed: %v", setErr)
	}

	store := newTestStore(t, storage, "http://localhost/accounts/token/refresh/")
	if initErr := store.Init(); initErr != nil {
		t.Fatalf("unexpected init error: %v", initErr)
	}
	if store.Snapshot().IsAuthenticated() {
		t.Fatalf("expected expired record to be discarded")
	}
	if _, found, _ := storage.Get(); found {
		t.Fatalf("expected the invalid record to be removed from storage")
	}
}

func TestInitDiscardsSubjectMismatch(t *testing.T) {
	t.Parallel()

	storage := NewMemoryStorage()
	record := persistedRecord{
		// Token minted for a different subject than the persisted user.
		User: testUser("user-2"),
		Tokens: Tokens{
			Access:  mintAccessToken(t, "user-1", testReference.Add(time.Hour)),
			Refresh: "refresh-opaque",
		},
	}
	data, _ := json.Marshal(record)
	if setErr := storage.Set(data); setErr != nil {
		t.Fatalf("seeding storage failed: %v", setErr)
	}

	store := newTestStore(t, storage, "http://localhost/accounts/token/refresh/")
	if initErr := store.Init(); initErr != nil {
		t.Fatalf("unexpected init error: %v", initErr)
	}
	if store.Snapshot().IsAuthenticated() {
		t.Fatalf("expected mismatched record to be discarded")
	}
	if _, found, _ := storage.Get(); found {
		t.Fatalf("expected the mismatched record to be removed from storage")
	}
}

func TestInitDiscardsMalformedRecord(t *testing.T) {
	t.Parallel()

	storage := NewMemoryStorage()
	if setErr := storage.Set([]byte("{not json")); setErr != nil {
		t.Fatalf("seeding storage failed: %v", setErr)
	}

	store := newTestStore(t, storage, "http://localhost/accounts/token/refresh/")
	if initErr := store.Init(); initErr != nil {
		t.Fatalf("unexpected init error: %v", initErr)
	}
	if store.Snapshot().IsAuthenticated() {
		t.Fatalf("expected malformed record to be discarded")
	}
}

func TestLogoutClearsStorageAndSession(t *testing.T) {
	t.Parallel()

	storage := NewMemoryStorage()
	store := newTestStore(t, storage, "http://localhost/accounts/token/refresh/")
	tokens := Tokens{
		Access:  mintAccessToken(t, "user-1", testReference.Add(time.Hour)),
		Refresh: "refresh-opaque",
	}
	if setErr := store.SetAuth(testUser("user-1"), tokens); setErr != nil {
		t.Fatalf("unexpected SetAuth error: %v", setErr)
	}

	store.Logout()

	snapshot := store.Snapshot()
	if snapshot.IsAuthenticated() {
		t.Fatalf("expected logout to reset authentication")
	}
	if snapshot.Tokens.Access != "" || snapshot.Tokens.Refresh != "" {
		t.Fatalf("expected logout to clear tokens")
	}
	if _, found, _ := storage.Get(); found {
		t.Fatalf("expected logout to remove the persisted record")
	}
}

func TestUpdateUserKeepsTokens(t *testing.T) {
	t.Parallel()

	storage := NewMemoryStorage()
	store := newTestStore(t, storage, "http://localhost/accounts/token/refresh/")
	tokens := Tokens{
		Access:  mintAccessToken(t, "user-1", testReference.Add(time.Hour)),
		Refresh: "refresh-opaque",
	}
	if setErr := store.SetAuth(testUser("user-1"), tokens); setErr != nil {
		t.Fatalf("unexpected SetAuth error: %v", setErr)
	}

	updated := testUser("user-1")
	updated.Bio = "updated bio"
	if updateErr := store.UpdateUser(updated); updateErr != nil {
		t.Fatalf("unexpected UpdateUser error: %v", updateErr)
	}

	snapshot := store.Snapshot()
	if snapshot.User.Bio != "updated bio" {
		t.Fatalf("expected the user field to be replaced")
	}
	if snapshot.Tokens != tokens {
		t.Fatalf("expected tokens to be untouched by UpdateUser")
	}

	data, found, _ := storage.Get()
	if !found {
		t.Fatalf("expected the updated record to be persisted")
	}
	var record persistedRecord
	if unmarshalErr := json.Unmarshal(data, &record); unmarshalErr != nil {
		t.Fatalf("persisted record unreadable: %v", unmarshalErr)
	}
	if record.User.Bio != "updated bio" || record.Tokens != tokens {
		t.Fatalf("persisted record does not mirror memory: %+v", record)
	}
}

func TestRefreshMergesAccessAndKeepsRefreshToken(t *testing.T) {
	t.Parallel()

	refreshedAccess := mintAccessToken(t, "user-1", testReference.Add(time.Hour))
	fake := newRefreshServer(t, func() string { return refreshedAccess })

	store := newTestStore(t, NewMemoryStorage(), fake.url())
	original := Tokens{
		Access:  mintAccessToken(t, "user-1", testReference.Add(time.Minute)),
		Refresh: "original-refresh",
	}
	if setErr := store.SetAuth(testUser("user-1"), original); setErr != nil {
		t.Fatalf("unexpected SetAuth error: %v", setErr)
	}

	if refreshErr := store.Refresh(context.Background(), original.Refresh); refreshErr != nil {
		t.Fatalf("unexpected refresh error: %v", refreshErr)
	}

	snapshot := store.Snapshot()
	if snapshot.Tokens.Access != refreshedAccess {
		t.Fatalf("expected the refreshed access token to be merged")
	}
	if snapshot.Tokens.Refresh != "original-refresh" {
		t.Fatalf("expected the refresh token to be retained when the response omits one")
	}
	if !snapshot.IsAuthenticated() {
		t.Fatalf("expected the session to stay authenticated")
	}
}

func TestRefreshAdoptsRotatedRefreshToken(t *testing.T) {
	t.Parallel()

	refreshedAccess := mintAccessToken(t, "user-1", testReference.Add(time.Hour))
	fake := newRefreshServer(t, func() string { return refreshedAccess })
	fake.nextRefresh = func() string { return "rotated-refresh" }

	store := newTestStore(t, NewMemoryStorage(), fake.url())
	if setErr := store.SetAuth(testUser("user-1"), Tokens{
		Access:  mintAccessToken(t, "user-1", testReference.Add(time.Minute)),
		Refresh: "original-refresh",
	}); setErr != nil {
		t.Fatalf("unexpected SetAuth error: %v", setErr)
	}

	if refreshErr := store.Refresh(context.Background(), "original-refresh"); refreshErr != nil {
		t.Fatalf("unexpected refresh error: %v", refreshErr)
	}
	if store.Snapshot().Tokens.Refresh != "rotated-refresh" {
		t.Fatalf("expected the rotated refresh token to replace the old one")
	}
}

func TestRefreshFailureLeavesSessionUnchanged(t *testing.T) {
	t.Parallel()

	fake := newRefreshServer(t, func() string { return "unused" })
	fake.failWith.Store(http.StatusUnauthorized)

	store := newTestStore(t, NewMemoryStorage(), fake.url())
	original := Tokens{
		Access:  mintAccessToken(t, "user-1", testReference.Add(time.Minute)),
		Refresh: "original-refresh",
	}
	if setErr := store.SetAuth(testUser("user-1"), original); setErr != nil {
		t.Fatalf("unexpected SetAuth error: %v", setErr)
	}
	before := store.Snapshot()

	refreshErr := store.Refresh(context.Background(), original.Refresh)
	if refreshErr == nil {
		t.Fatalf("expected refresh to fail")
	}
	if !errors.Is(refreshErr, ErrRefreshRejected) {
		t.Fatalf("expected ErrRefreshRejected, got %v", refreshErr)
	}
	if store.Snapshot() != before {
		t.Fatalf("expected the session to be unchanged after a failed refresh")
	}
}

func TestRefreshMalformedResponseLeavesSessionUnchanged(t *testing.T) {
	t.Parallel()

	fake := newRefreshServer(t, func() string { return "" })

	store := newTestStore(t, NewMemoryStorage(), fake.url())
	original := Tokens{
		Access:  mintAccessToken(t, "user-1", testReference.Add(time.Minute)),
		Refresh: "original-refresh",
	}
	if setErr := store.SetAuth(testUser("user-1"), original); setErr != nil {
		t.Fatalf("unexpected SetAuth error: %v", setErr)
	}

	refreshErr := store.Refresh(context.Background(), original.Refresh)
	if !errors.Is(refreshErr, ErrRefreshMalformedResponse) {
		t.Fatalf("expected ErrRefreshMalformedResponse, got %v", refreshErr)
	}
	if store.Snapshot().Tokens != original {
		t.Fatalf("expected tokens unchanged after malformed response")
	}
}

func TestRefreshEmptyTokenRejected(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, NewMemoryStorage(), "http://localhost/accounts/token/refresh/")
	if refreshErr := store.Refresh(context.Background(), "  "); !errors.Is(refreshErr, ErrRefreshEmptyToken) {
		t.Fatalf("expected ErrRefreshEmptyToken, got %v", refreshErr)
	}
}

func TestRefreshSharedDeduplicatesConcurrentCallers(t *testing.T) {
	t.Parallel()

	refreshedAccess := mintAccessToken(t, "user-1", testReference.Add(time.Hour))
	fake := newRefreshServer(t, func() string { return refreshedAccess })
	fake.delay = 50 * time.Millisecond

	store := newTestStore(t, NewMemoryStorage(), fake.url())
	if setErr := store.SetAuth(testUser("user-1"), Tokens{
		Access:  mintAccessToken(t, "user-1", testReference.Add(time.Minute)),
		Refresh: "original-refresh",
	}); setErr != nil {
		t.Fatalf("unexpected SetAuth error: %v", setErr)
	}

	// Two callers observe the refresh window at the same time; the shared
	// guard must collapse them into one upstream request.
	var waitGroup sync.WaitGroup
	refreshErrors := make([]error, 2)
	for index := range refreshErrors {
		waitGroup.Add(1)
		go func(slot int) {
			defer waitGroup.Done()
			refreshErrors[slot] = store.RefreshShared(context.Background())
		}(index)
	}
	waitGroup.Wait()

	for slot, refreshErr := range refreshErrors {
		if refreshErr != nil {
			t.Fatalf("caller %d: unexpected refresh error: %v", slot, refreshErr)
		}
	}
	if upstreamCalls := fake.calls.Load(); upstreamCalls != 1 {
		t.Fatalf("expected exactly one upstream refresh call, got %d", upstreamCalls)
	}
	if store.Snapshot().Tokens.Access != refreshedAccess {
		t.Fatalf("expected both callers to observe the refreshed token")
	}
}

func TestRefreshSharedRequiresAuthenticatedSession(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, NewMemoryStorage(), "http://localhost/accounts/token/refresh/")
	if refreshErr := store.RefreshShared(context.Background()); !errors.Is(refreshErr, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", refreshErr)
	}
}

func TestSubscribersObserveMutations(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, NewMemoryStorage(), "http://localhost/accounts/token/refresh/")

	var observedMutex sync.Mutex
	var observed []Status
	subscription := store.Subscribe(func(snapshot Session) {
		observedMutex.Lock()
		observed = append(observed, snapshot.Status)
		observedMutex.Unlock()
	})

	tokens := Tokens{
		Access:  mintAccessToken(t, "user-1", testReference.Add(time.Hour)),
		Refresh: "refresh-opaque",
	}
	_ = store.SetAuth(testUser("user-1"), tokens)
	store.Logout()

	observedMutex.Lock()
	sequence := append([]Status(nil), observed...)
	observedMutex.Unlock()
	if len(sequence) != 2 || sequence[0] != StatusAuthenticated || sequence[1] != StatusUnauthenticated {
		t.Fatalf("unexpected mutation sequence: %v", sequence)
	}

	store.Unsubscribe(subscription)
	store.SetMessage("after unsubscribe")
	observedMutex.Lock()
	finalLength := len(observed)
	observedMutex.Unlock()
	if finalLength != 2 {
		t.Fatalf("expected no notifications after unsubscribe, got %d", finalLength)
	}
}

func TestNoticesAreSingleSlot(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, NewMemoryStorage(), "http://localhost/accounts/token/refresh/")

	store.SetError("first error")
	store.SetError("second error")
	if snapshot := store.Snapshot(); snapshot.Error != "second error" {
		t.Fatalf("expected the error slot to be overwritten, got %q", snapshot.Error)
	}

	store.SetMessage("first message")
	store.SetMessage("second message")
	if snapshot := store.Snapshot(); snapshot.Message != "second message" {
		t.Fatalf("expected the message slot to be overwritten, got %q", snapshot.Message)
	}

	store.ClearError()
	store.ClearMessage()
	snapshot := store.Snapshot()
	if snapshot.Error != "" || snapshot.Message != "" {
		t.Fatalf("expected notices to clear, got %+v", snapshot)
	}
}

func TestNewStoreValidatesConfiguration(t *testing.T) {
	t.Parallel()

	if _, storeErr := NewStore(StoreConfig{RefreshURL: "http://localhost/refresh"}); !errors.Is(storeErr, ErrMissingStorage) {
		t.Fatalf("expected ErrMissingStorage, got %v", storeErr)
	}
	if _, storeErr := NewStore(StoreConfig{Storage: NewMemoryStorage()}); !errors.Is(storeErr, ErrMissingRefreshURL) {
		t.Fatalf("expected ErrMissingRefreshURL, got %v", storeErr)
	}
}
