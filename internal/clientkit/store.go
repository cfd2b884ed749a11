package clientkit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tyemirov/expensekit/pkg/tokenkit"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrMissingStorage indicates the Store was constructed without a Storage backend.
	ErrMissingStorage = errors.New("session_store.missing_storage")
	// ErrMissingRefreshURL indicates the Store was constructed without a refresh endpoint.
	ErrMissingRefreshURL = errors.New("session_store.missing_refresh_url")
	// ErrNotAuthenticated indicates a refresh was requested without an authenticated session.
	ErrNotAuthenticated = errors.New("session_store.not_authenticated")
	// ErrRefreshEmptyToken indicates an empty refresh token was supplied.
	ErrRefreshEmptyToken = errors.New("session_store.refresh.empty_token")
	// ErrRefreshRejected indicates the refresh endpoint answered with a non-2xx status.
	ErrRefreshRejected = errors.New("session_store.refresh.rejected")
	// ErrRefreshMalformedResponse indicates the refresh response body was unusable.
	ErrRefreshMalformedResponse = errors.New("session_store.refresh.malformed_response")
)

// StoreConfig configures a Store.
type StoreConfig struct {
	Storage    Storage
	RefreshURL string
	HTTPClient *http.Client
	Codec      *tokenkit.Codec
	Logger     *zap.Logger
}

// Store is the single source of truth for the client Session. All mutations
// go through its operations; the Storage mirror is written synchronously
// under the same lock, so persisted and in-memory state never diverge.
type Store struct {
	mutex      sync.Mutex
	session    Session
	storage    Storage
	refreshURL string
	httpClient *http.Client
	codec      *tokenkit.Codec
	logger     *zap.Logger

	refreshGroup singleflight.Group

	subscriberMutex  sync.Mutex
	subscribers      map[int]func(Session)
	nextSubscriberID int
}

// NewStore constructs a Store after validating its configuration.
func NewStore(configuration StoreConfig) (*Store, error) {
	if configuration.Storage == nil {
		return nil, fmt.Errorf("session_store.new: %w", ErrMissingStorage)
	}
	if strings.TrimSpace(configuration.RefreshURL) == "" {
		return nil, fmt.Errorf("session_store.new: %w", ErrMissingRefreshURL)
	}
	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	codec := configuration.Codec
	if codec == nil {
		codec = tokenkit.New(tokenkit.Config{})
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		session:     Session{Status: StatusUninitialized},
		storage:     configuration.Storage,
		refreshURL:  configuration.RefreshURL,
		httpClient:  httpClient,
		codec:       codec,
		logger:      logger,
		subscribers: make(map[int]func(Session)),
	}, nil
}

// Snapshot returns a copy of the current Session.
func (store *Store) Snapshot() Session {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.session
}

// Subscribe registers a callback invoked with a Session snapshot after every
// mutation. It returns a handle for Unsubscribe.
func (store *Store) Subscribe(callback func(Session)) int {
	store.subscriberMutex.Lock()
	defer store.subscriberMutex.Unlock()
	store.nextSubscriberID++
	id := store.nextSubscriberID
	store.subscribers[id] = callback
	return id
}

// Unsubscribe removes a previously registered callback.
func (store *Store) Unsubscribe(id int) {
	store.subscriberMutex.Lock()
	defer store.subscriberMutex.Unlock()
	delete(store.subscribers, id)
}

func (store *Store) notify(snapshot Session) {
	store.subscriberMutex.Lock()
	callbacks := make([]func(Session), 0, len(store.subscribers))
	for _, callback := range store.subscribers {
		callbacks = append(callbacks, callback)
	}
	store.subscriberMutex.Unlock()
	for _, callback := range callbacks {
		callback(snapshot)
	}
}

// Init restores the persisted session record. A missing record, an invalid
// or expired access token, or a decoded token subject that does not match
// the persisted user id all reset the session to the unauthenticated
// default and remove the stored record. Init is the only transition through
// StatusLoading.
func (store *Store) Init() error {
	store.mutex.Lock()
	store.session.Status = StatusLoading
	loading := store.session
	store.mutex.Unlock()
	store.notify(loading)

	record, restoreErr := store.restoreRecord()

	store.mutex.Lock()
	if restoreErr != nil || record == nil {
		store.session = Session{Status: StatusUnauthenticated}
	} else {
		store.session = Session{
			User:   record.User,
			Tokens: record.Tokens,
			Status: StatusAuthenticated,
		}
	}
	snapshot := store.session
	store.mutex.Unlock()
	store.notify(snapshot)

	if restoreErr != nil && !errors.Is(restoreErr, errNoPersistedRecord) {
		return restoreErr
	}
	return nil
}

var errNoPersistedRecord = errors.New("session_store.init.no_record")

// restoreRecord reads and validates the persisted record; on any
// invalid-record condition it clears storage and reports no record.
func (store *Store) restoreRecord() (*persistedRecord, error) {
	data, found, getErr := store.storage.Get()
	if getErr != nil {
		store.logger.Warn("session restore read failed",
			zap.String("code", "session_store.init.read_failed"),
			zap.Error(getErr))
		return nil, fmt.Errorf("session_store.init: %w", getErr)
	}
	if !found {
		return nil, errNoPersistedRecord
	}

	var record persistedRecord
	if unmarshalErr := json.Unmarshal(data, &record); unmarshalErr != nil {
		store.discardRecord("session_store.init.malformed_record")
		return nil, errNoPersistedRecord
	}
	if !store.codec.IsValid(record.Tokens.Access) {
		store.discardRecord("session_store.init.invalid_token")
		return nil, errNoPersistedRecord
	}
	payload, decodeErr := store.codec.Decode(record.Tokens.Access)
	if decodeErr != nil || payload.UserID == "" || payload.UserID != record.User.ID {
		// Tampered or mismatched storage is treated the same as an invalid token.
		store.discardRecord("session_store.init.subject_mismatch")
		return nil, errNoPersistedRecord
	}
	return &record, nil
}

func (store *Store) discardRecord(code string) {
	store.logger.Warn("discarding persisted session record", zap.String("code", code))
	if removeErr := store.storage.Remove(); removeErr != nil {
		store.logger.Warn("failed to remove persisted session record",
			zap.String("code", code),
			zap.Error(removeErr))
	}
}

// SetAuth replaces the whole session after a successful login, register,
// verification, or password reset, persists it, and clears transient
// notices.
func (store *Store) SetAuth(user User, tokens Tokens) error {
	store.mutex.Lock()
	store.session = Session{
		User:   user,
		Tokens: tokens,
		Status: StatusAuthenticated,
	}
	persistErr := store.persistLocked()
	snapshot := store.session
	store.mutex.Unlock()
	store.notify(snapshot)
	return persistErr
}

// UpdateUser replaces only the user field and re-persists with the current
// tokens.
func (store *Store) UpdateUser(user User) error {
	store.mutex.Lock()
	store.session.User = user
	persistErr := store.persistLocked()
	snapshot := store.session
	store.mutex.Unlock()
	store.notify(snapshot)
	return persistErr
}

// Logout removes the persisted record and resets the session to the
// unauthenticated default. It is local-only and succeeds regardless of any
// server-side logout outcome.
func (store *Store) Logout() {
	store.mutex.Lock()
	if removeErr := store.storage.Remove(); removeErr != nil {
		store.logger.Warn("failed to clear persisted session on logout",
			zap.String("code", "session_store.logout.remove_failed"),
			zap.Error(removeErr))
	}
	store.session = Session{Status: StatusUnauthenticated}
	snapshot := store.session
	store.mutex.Unlock()
	store.notify(snapshot)
}

// SetError records a single-slot user-facing error notice.
func (store *Store) SetError(message string) {
	store.mutex.Lock()
	store.session.Error = message
	snapshot := store.session
	store.mutex.Unlock()
	store.notify(snapshot)
}

// ClearError clears the error notice.
func (store *Store) ClearError() {
	store.SetError("")
}

// SetMessage records a single-slot user-facing informational notice.
func (store *Store) SetMessage(message string) {
	store.mutex.Lock()
	store.session.Message = message
	snapshot := store.session
	store.mutex.Unlock()
	store.notify(snapshot)
}

// ClearMessage clears the informational notice.
func (store *Store) ClearMessage() {
	store.SetMessage("")
}

type refreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Refresh exchanges the refresh token for a new access token. On success
// the returned access token (and refresh token, only when the response
// carries one) is merged into the current tokens and persisted; the session
// stays authenticated. On any failure the session is left unchanged and the
// caller decides whether to force a logout.
func (store *Store) Refresh(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return fmt.Errorf("session_store.refresh: %w", ErrRefreshEmptyToken)
	}

	requestBody, marshalErr := json.Marshal(map[string]string{"refresh": refreshToken})
	if marshalErr != nil {
		return fmt.Errorf("session_store.refresh: %w", marshalErr)
	}
	request, buildErr := http.NewRequestWithContext(ctx, http.MethodPost, store.refreshURL, bytes.NewReader(requestBody))
	if buildErr != nil {
		return fmt.Errorf("session_store.refresh: %w", buildErr)
	}
	request.Header.Set("Content-Type", "application/json")

	response, sendErr := store.httpClient.Do(request)
	if sendErr != nil {
		return fmt.Errorf("session_store.refresh: %w", sendErr)
	}
	defer func() { _ = response.Body.Close() }()

	body, readErr := io.ReadAll(response.Body)
	if readErr != nil {
		return fmt.Errorf("session_store.refresh: %w", readErr)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("session_store.refresh.status_%d: %w", response.StatusCode, ErrRefreshRejected)
	}

	var refreshed refreshResponse
	if unmarshalErr := json.Unmarshal(body, &refreshed); unmarshalErr != nil || refreshed.Access == "" {
		return fmt.Errorf("session_store.refresh: %w", ErrRefreshMalformedResponse)
	}

	store.mutex.Lock()
	store.session.Tokens.Access = refreshed.Access
	if refreshed.Refresh != "" {
		// Rotation is optional; the old refresh token is retained unless the
		// server supplies a replacement.
		store.session.Tokens.Refresh = refreshed.Refresh
	}
	store.session.Status = StatusAuthenticated
	persistErr := store.persistLocked()
	snapshot := store.session
	store.mutex.Unlock()
	store.notify(snapshot)

	if persistErr != nil {
		store.logger.Warn("refreshed session could not be persisted",
			zap.String("code", "session_store.refresh.persist_failed"),
			zap.Error(persistErr))
	}
	return nil
}

// RefreshShared refreshes using the session's current refresh token,
// deduplicating concurrent callers: the first caller starts the upstream
// request and everyone arriving while it is in flight waits for the same
// result.
func (store *Store) RefreshShared(ctx context.Context) error {
	store.mutex.Lock()
	refreshToken := store.session.Tokens.Refresh
	authenticated := store.session.IsAuthenticated()
	store.mutex.Unlock()
	if !authenticated || refreshToken == "" {
		return fmt.Errorf("session_store.refresh_shared: %w", ErrNotAuthenticated)
	}

	_, sharedErr, _ := store.refreshGroup.Do("refresh", func() (any, error) {
		return nil, store.Refresh(ctx, refreshToken)
	})
	return sharedErr
}

// persistLocked mirrors the in-memory session to storage. Callers must hold
// store.mutex.
func (store *Store) persistLocked() error {
	record := persistedRecord{
		User:   store.session.User,
		Tokens: store.session.Tokens,
	}
	data, marshalErr := json.Marshal(record)
	if marshalErr != nil {
		return fmt.Errorf("session_store.persist: %w", marshalErr)
	}
	if setErr := store.storage.Set(data); setErr != nil {
		return fmt.Errorf("session_store.persist: %w", setErr)
	}
	return nil
}
