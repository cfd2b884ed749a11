package clientkit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tyemirov/expensekit/pkg/tokenkit"
	"go.uber.org/zap"
)

var (
	// ErrMissingBaseURL indicates the Executor was constructed without a base URL.
	ErrMissingBaseURL = errors.New("executor.missing_base_url")
	// ErrMissingStore indicates the Executor was constructed without a session Store.
	ErrMissingStore = errors.New("executor.missing_store")
	// ErrInvalidEndpoint indicates the endpoint could not be resolved to a URL.
	ErrInvalidEndpoint = errors.New("executor.invalid_endpoint")
	// ErrNotJSON indicates a Decode call on a response without a JSON body.
	ErrNotJSON = errors.New("executor.response_not_json")
)

// SessionExpiredQuery is appended to the login path when a forced logout
// redirects the user, so the UI can explain why.
const SessionExpiredQuery = "session=expired"

// DefaultLoginPath is the navigation target for forced logouts.
const DefaultLoginPath = "/login"

// Navigator receives forced client-side redirects, such as the jump to the
// login entry point after a session expires.
type Navigator interface {
	NavigateTo(target string)
}

// NavigatorFunc adapts a function to the Navigator interface.
type NavigatorFunc func(target string)

// NavigateTo invokes the wrapped function.
func (navigate NavigatorFunc) NavigateTo(target string) {
	navigate(target)
}

type nopNavigator struct{}

func (nopNavigator) NavigateTo(string) {}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	BaseURL          string
	HTTPClient       *http.Client
	Store            *Store
	Codec            *tokenkit.Codec
	RefreshThreshold time.Duration
	Navigator        Navigator
	LoginPath        string
	Logger           *zap.Logger
}

// Executor issues one logical authenticated HTTP call: it refreshes the
// access token proactively when it is close to expiry, attaches the bearer
// header, retries exactly once after a recoverable 401, and normalizes
// responses and failures. It is the only component in the client that
// retries anything.
type Executor struct {
	baseURL          string
	httpClient       *http.Client
	store            *Store
	codec            *tokenkit.Codec
	refreshThreshold time.Duration
	navigator        Navigator
	loginPath        string
	logger           *zap.Logger
}

// NewExecutor constructs an Executor after validating its configuration.
func NewExecutor(configuration ExecutorConfig) (*Executor, error) {
	if strings.TrimSpace(configuration.BaseURL) == "" {
		return nil, fmt.Errorf("executor.new: %w", ErrMissingBaseURL)
	}
	if configuration.Store == nil {
		return nil, fmt.Errorf("executor.new: %w", ErrMissingStore)
	}
	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	codec := configuration.Codec
	if codec == nil {
		codec = tokenkit.New(tokenkit.Config{})
	}
	navigator := configuration.Navigator
	if navigator == nil {
		navigator = nopNavigator{}
	}
	loginPath := configuration.LoginPath
	if strings.TrimSpace(loginPath) == "" {
		loginPath = DefaultLoginPath
	}
	threshold := configuration.RefreshThreshold
	if threshold <= 0 {
		threshold = tokenkit.DefaultRefreshThreshold
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		baseURL:          strings.TrimRight(configuration.BaseURL, "/"),
		httpClient:       httpClient,
		store:            configuration.Store,
		codec:            codec,
		refreshThreshold: threshold,
		navigator:        navigator,
		loginPath:        loginPath,
		logger:           logger,
	}, nil
}

// Options shape a single request.
type Options struct {
	// Method defaults to GET.
	Method string
	// Body is JSON-encoded when non-nil.
	Body any
	// Query is appended to the resolved URL.
	Query url.Values
	// Header entries are copied onto the request.
	Header http.Header
	// SkipAuth leaves the Authorization header off.
	SkipAuth bool
	// RetryOnUnauthorized gates the 401 refresh-and-retry. Nil means true.
	RetryOnUnauthorized *bool
}

func (options Options) retryOnUnauthorized() bool {
	if options.RetryOnUnauthorized == nil {
		return true
	}
	return *options.RetryOnUnauthorized
}

// Response is the normalized successful outcome of a request.
type Response struct {
	Status int
	Header http.Header
	Raw    []byte
	// JSON holds the body when the response declared a JSON content type
	// and the body parsed; otherwise it is nil and Text carries the body.
	JSON json.RawMessage
	Text string
}

// Decode unmarshals the JSON payload into v.
func (response *Response) Decode(v any) error {
	if response.JSON == nil {
		return fmt.Errorf("executor.decode: %w", ErrNotJSON)
	}
	if unmarshalErr := json.Unmarshal(response.JSON, v); unmarshalErr != nil {
		return fmt.Errorf("executor.decode: %w", unmarshalErr)
	}
	return nil
}

// Do executes one logical call against the endpoint. Expected failures
// (network, validation, authorization, server) come back as *Failure error
// values; Do never panics for them.
func (executor *Executor) Do(ctx context.Context, endpoint string, options Options) (*Response, error) {
	targetURL, resolveErr := executor.resolveURL(endpoint, options.Query)
	if resolveErr != nil {
		return nil, resolveErr
	}

	bodyBytes, contentType, encodeErr := encodeBody(options.Body)
	if encodeErr != nil {
		return nil, encodeErr
	}

	accessToken := ""
	if !options.SkipAuth {
		accessToken = executor.currentAccessToken(ctx)
	}

	response, body, sendErr := executor.send(ctx, options.Method, targetURL, bodyBytes, contentType, options.Header, accessToken)
	if sendErr != nil {
		return nil, networkFailure(sendErr)
	}

	if response.StatusCode == http.StatusUnauthorized && executor.canRetryUnauthorized(options) {
		if refreshErr := executor.store.RefreshShared(ctx); refreshErr != nil {
			executor.logger.Info("refresh after 401 failed, forcing logout",
				zap.String("code", "executor.session_expired"),
				zap.Error(refreshErr))
			executor.store.Logout()
			executor.navigator.NavigateTo(executor.loginPath + "?" + SessionExpiredQuery)
			return nil, sessionExpiredFailure(response.StatusCode, body)
		}
		retriedAccess := executor.store.Snapshot().Tokens.Access
		retriedResponse, retriedBody, retryErr := executor.send(ctx, options.Method, targetURL, bodyBytes, contentType, options.Header, retriedAccess)
		if retryErr != nil {
			return nil, networkFailure(retryErr)
		}
		// The retry is bounded to exactly one attempt; whatever comes back
		// is the final outcome.
		response, body = retriedResponse, retriedBody
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, classifyFailure(response.StatusCode, body)
	}
	return normalizeResponse(response, body), nil
}

// currentAccessToken refreshes proactively when the token is inside the
// refresh window and returns whatever access token is current afterward.
// A failed proactive refresh is deliberate optimistic continuation: the
// stale token is sent anyway and the 401 path recovers if the server
// rejects it.
func (executor *Executor) currentAccessToken(ctx context.Context) string {
	snapshot := executor.store.Snapshot()
	if !snapshot.IsAuthenticated() {
		return ""
	}
	if executor.codec.ShouldRefresh(snapshot.Tokens.Access, executor.refreshThreshold) {
		if refreshErr := executor.store.RefreshShared(ctx); refreshErr != nil {
			executor.logger.Debug("proactive refresh failed, continuing with current token",
				zap.String("code", "executor.proactive_refresh_failed"),
				zap.Error(refreshErr))
		}
		snapshot = executor.store.Snapshot()
	}
	return snapshot.Tokens.Access
}

func (executor *Executor) canRetryUnauthorized(options Options) bool {
	if options.SkipAuth || !options.retryOnUnauthorized() {
		return false
	}
	snapshot := executor.store.Snapshot()
	return snapshot.IsAuthenticated() && snapshot.Tokens.Refresh != ""
}

func (executor *Executor) send(ctx context.Context, method string, targetURL string, bodyBytes []byte, contentType string, header http.Header, accessToken string) (*http.Response, []byte, error) {
	if method == "" {
		method = http.MethodGet
	}
	var bodyReader io.Reader
	if bodyBytes != nil {
		bodyReader = bytes.NewReader(bodyBytes)
	}
	request, buildErr := http.NewRequestWithContext(ctx, method, targetURL, bodyReader)
	if buildErr != nil {
		return nil, nil, buildErr
	}
	for key, values := range header {
		for _, value := range values {
			request.Header.Add(key, value)
		}
	}
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	if accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+accessToken)
	}

	response, sendErr := executor.httpClient.Do(request)
	if sendErr != nil {
		return nil, nil, sendErr
	}
	defer func() { _ = response.Body.Close() }()
	body, readErr := io.ReadAll(response.Body)
	if readErr != nil {
		return nil, nil, readErr
	}
	return response, body, nil
}

// resolveURL joins a relative endpoint onto the base URL; absolute
// endpoints pass through unchanged.
func (executor *Executor) resolveURL(endpoint string, query url.Values) (string, error) {
	parsed, parseErr := url.Parse(endpoint)
	if parseErr != nil {
		return "", fmt.Errorf("executor.resolve_url: %w", ErrInvalidEndpoint)
	}
	target := endpoint
	if !parsed.IsAbs() {
		if !strings.HasPrefix(endpoint, "/") {
			endpoint = "/" + endpoint
		}
		target = executor.baseURL + endpoint
	}
	if len(query) > 0 {
		separator := "?"
		if strings.Contains(target, "?") {
			separator = "&"
		}
		target += separator + query.Encode()
	}
	return target, nil
}

func encodeBody(body any) ([]byte, string, error) {
	if body == nil {
		return nil, "", nil
	}
	if raw, ok := body.([]byte); ok {
		return raw, "application/json", nil
	}
	encoded, marshalErr := json.Marshal(body)
	if marshalErr != nil {
		return nil, "", fmt.Errorf("executor.encode_body: %w", marshalErr)
	}
	return encoded, "application/json", nil
}

// normalizeResponse parses the body by declared content type; JSON bodies
// that do not parse degrade to raw text.
func normalizeResponse(response *http.Response, body []byte) *Response {
	normalized := &Response{
		Status: response.StatusCode,
		Header: response.Header,
		Raw:    body,
	}
	mediaType, _, _ := mime.ParseMediaType(response.Header.Get("Content-Type"))
	if strings.HasSuffix(mediaType, "json") && json.Valid(body) {
		normalized.JSON = json.RawMessage(body)
		return normalized
	}
	normalized.Text = string(body)
	return normalized
}
