package clientkit

// User is the profile record the API returns for the authenticated account.
type User struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Username      string `json:"username"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	PhoneNumber   string `json:"phone_number,omitempty"`
	UserType      string `json:"user_type,omitempty"`
	ProfileImage  string `json:"profile_image,omitempty"`
	Bio           string `json:"bio,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	DateJoined    string `json:"date_joined,omitempty"`
}

// Tokens is the credential pair issued by the API. Access is a signed,
// self-describing token; Refresh is opaque to the client and only ever sent
// to the refresh endpoint.
type Tokens struct {
	Access    string `json:"access"`
	Refresh   string `json:"refresh"`
	ExpiresIn int64  `json:"expires_in,omitempty"`
}

// Status tracks the session lifecycle. The only entry into and out of
// StatusLoading is Init; after the first Init the session moves between
// Authenticated and Unauthenticated only.
type Status int

const (
	StatusUninitialized Status = iota
	StatusLoading
	StatusAuthenticated
	StatusUnauthenticated
)

// String returns the lowercase status label.
func (status Status) String() string {
	switch status {
	case StatusLoading:
		return "loading"
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return "uninitialized"
	}
}

// Session is the client-held record of the current authenticated user.
// Error and Message are single-slot transient notices; they are overwritten,
// never queued.
type Session struct {
	User    User
	Tokens  Tokens
	Status  Status
	Error   string
	Message string
}

// IsAuthenticated reports whether the session currently holds a validated
// access token.
func (session Session) IsAuthenticated() bool {
	return session.Status == StatusAuthenticated && session.Tokens.Access != ""
}

// persistedRecord is the JSON shape written to Storage.
type persistedRecord struct {
	User   User   `json:"user"`
	Tokens Tokens `json:"tokens"`
}
