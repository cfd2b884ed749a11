// Package accounts is the typed client for the /accounts API surface:
// authentication, email verification, password reset, and profile
// management. It shapes results and applies session mutations; all retry
// behavior lives in the request executor.
package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/tyemirov/expensekit/internal/clientkit"
	"go.uber.org/zap"
)

// ErrMissingExecutor indicates the Client was constructed without an executor.
var ErrMissingExecutor = errors.New("accounts.missing_executor")

// ErrMissingStore indicates the Client was constructed without a session store.
var ErrMissingStore = errors.New("accounts.missing_store")

// Client calls the accounts endpoints.
type Client struct {
	executor *clientkit.Executor
	store    *clientkit.Store
	logger   *zap.Logger
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Executor *clientkit.Executor
	Store    *clientkit.Store
	Logger   *zap.Logger
}

// NewClient constructs a Client after validating its configuration.
func NewClient(configuration ClientConfig) (*Client, error) {
	if configuration.Executor == nil {
		return nil, fmt.Errorf("accounts.new: %w", ErrMissingExecutor)
	}
	if configuration.Store == nil {
		return nil, fmt.Errorf("accounts.new: %w", ErrMissingStore)
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		executor: configuration.Executor,
		store:    configuration.Store,
		logger:   logger,
	}, nil
}

// AuthResult is the credential payload returned by login, register, and
// email verification.
type AuthResult struct {
	User    clientkit.User   `json:"user"`
	Tokens  clientkit.Tokens `json:"tokens"`
	Message string           `json:"message,omitempty"`
}

// RegistrationInput is the payload for Register.
type RegistrationInput struct {
	Email           string `json:"email"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
	FirstName       string `json:"first_name,omitempty"`
	LastName        string `json:"last_name,omitempty"`
	PhoneNumber     string `json:"phone_number,omitempty"`
}

// ProfileUpdate is the partial-update payload for UpdateProfile. Nil fields
// are omitted so the server only touches what was supplied.
type ProfileUpdate struct {
	Username     *string `json:"username,omitempty"`
	FirstName    *string `json:"first_name,omitempty"`
	LastName     *string `json:"last_name,omitempty"`
	PhoneNumber  *string `json:"phone_number,omitempty"`
	ProfileImage *string `json:"profile_image,omitempty"`
	Bio          *string `json:"bio,omitempty"`
}

type detailResponse struct {
	Detail string `json:"detail"`
}

// Login authenticates with email and password and replaces the session on
// success.
func (client *Client) Login(ctx context.Context, email string, password string) (*AuthResult, error) {
	response, callErr := client.executor.Do(ctx, "/accounts/login/", clientkit.Options{
		Method:   "POST",
		Body:     map[string]string{"email": email, "password": password},
		SkipAuth: true,
	})
	if callErr != nil {
		return nil, callErr
	}
	var result AuthResult
	if decodeErr := response.Decode(&result); decodeErr != nil {
		return nil, decodeErr
	}
	if setErr := client.store.SetAuth(result.User, result.Tokens); setErr != nil {
		client.logger.Warn("login session could not be persisted",
			zap.String("code", "accounts.login.persist_failed"),
			zap.Error(setErr))
	}
	return &result, nil
}

// Register creates a new account; when the server returns credentials the
// session is replaced immediately.
func (client *Client) Register(ctx context.Context, input RegistrationInput) (*AuthResult, error) {
	response, callErr := client.executor.Do(ctx, "/accounts/register/", clientkit.Options{
		Method:   "POST",
		Body:     input,
		SkipAuth: true,
	})
	if callErr != nil {
		return nil, callErr
	}
	var result AuthResult
	if decodeErr := response.Decode(&result); decodeErr != nil {
		return nil, decodeErr
	}
	if result.Tokens.Access != "" {
		if setErr := client.store.SetAuth(result.User, result.Tokens); setErr != nil {
			client.logger.Warn("registered session could not be persisted",
				zap.String("code", "accounts.register.persist_failed"),
				zap.Error(setErr))
		}
	}
	if result.Message != "" {
		client.store.SetMessage(result.Message)
	}
	return &result, nil
}

// Logout invalidates the refresh token server-side on a best-effort basis
// and always clears the local session, whatever the server said.
func (client *Client) Logout(ctx context.Context) {
	refreshToken := client.store.Snapshot().Tokens.Refresh
	if refreshToken != "" {
		disableRetry := false
		_, callErr := client.executor.Do(ctx, "/accounts/logout/", clientkit.Options{
			Method:              "POST",
			Body:                map[string]string{"refresh": refreshToken},
			RetryOnUnauthorized: &disableRetry,
		})
		if callErr != nil {
			client.logger.Info("server-side logout failed, clearing local session anyway",
				zap.String("code", "accounts.logout.best_effort"),
				zap.Error(callErr))
		}
	}
	client.store.Logout()
}

// VerifyEmail confirms an email address with the emailed token. Some
// deployments return credentials alongside the confirmation; when present
// they replace the session.
func (client *Client) VerifyEmail(ctx context.Context, token string) (string, error) {
	response, callErr := client.executor.Do(ctx, "/accounts/verify-email/", clientkit.Options{
		Method:   "POST",
		Body:     map[string]string{"token": token},
		SkipAuth: true,
	})
	if callErr != nil {
		return "", callErr
	}
	var result struct {
		Detail string            `json:"detail"`
		User   *clientkit.User   `json:"user"`
		Tokens *clientkit.Tokens `json:"tokens"`
	}
	if decodeErr := response.Decode(&result); decodeErr != nil {
		return "", decodeErr
	}
	if result.User != nil && result.Tokens != nil && result.Tokens.Access != "" {
		if setErr := client.store.SetAuth(*result.User, *result.Tokens); setErr != nil {
			client.logger.Warn("verified session could not be persisted",
				zap.String("code", "accounts.verify_email.persist_failed"),
				zap.Error(setErr))
		}
	}
	return result.Detail, nil
}

// RequestVerification asks for a new verification email.
func (client *Client) RequestVerification(ctx context.Context, email string) (string, error) {
	return client.postDetail(ctx, "/accounts/request-verification/", map[string]string{"email": email})
}

// RequestPasswordReset asks for a password-reset email.
func (client *Client) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	return client.postDetail(ctx, "/accounts/request-password-reset/", map[string]string{"email": email})
}

// ResetPassword sets a new password using the emailed reset token.
func (client *Client) ResetPassword(ctx context.Context, token string, newPassword string) (string, error) {
	return client.postDetail(ctx, "/accounts/reset-password/", map[string]string{
		"token":        token,
		"new_password": newPassword,
	})
}

func (client *Client) postDetail(ctx context.Context, endpoint string, body map[string]string) (string, error) {
	response, callErr := client.executor.Do(ctx, endpoint, clientkit.Options{
		Method:   "POST",
		Body:     body,
		SkipAuth: true,
	})
	if callErr != nil {
		return "", callErr
	}
	var result detailResponse
	if decodeErr := response.Decode(&result); decodeErr != nil {
		return "", decodeErr
	}
	return result.Detail, nil
}

// Profile fetches the authenticated user's profile.
func (client *Client) Profile(ctx context.Context) (*clientkit.User, error) {
	response, callErr := client.executor.Do(ctx, "/accounts/profile/", clientkit.Options{})
	if callErr != nil {
		return nil, callErr
	}
	var user clientkit.User
	if decodeErr := response.Decode(&user); decodeErr != nil {
		return nil, decodeErr
	}
	return &user, nil
}

// UpdateProfile partially updates the profile and propagates the returned
// record into the session.
func (client *Client) UpdateProfile(ctx context.Context, update ProfileUpdate) (*clientkit.User, error) {
	response, callErr := client.executor.Do(ctx, "/accounts/profile/", clientkit.Options{
		Method: "PUT",
		Body:   update,
	})
	if callErr != nil {
		return nil, callErr
	}
	var user clientkit.User
	if decodeErr := response.Decode(&user); decodeErr != nil {
		return nil, decodeErr
	}
	if updateErr := client.store.UpdateUser(user); updateErr != nil {
		client.logger.Warn("updated profile could not be persisted",
			zap.String("code", "accounts.update_profile.persist_failed"),
			zap.Error(updateErr))
	}
	return &user, nil
}
