package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	domain "github.com/fixparts/api/internal/domain"
	"github.com/fixparts/api/internal/platform/httpx"
)

const (
	DefaultCustomerHeader  = "X-Customer-ID"
	DefaultRoleHeader      = "X-Customer-Role"
	DefaultEmailHeader     = "X-Customer-Email"
	DefaultSignatureHeader = "X-Identity-Signature"
	DefaultTimestampHeader = "X-Identity-Timestamp"

	defaultClockSkew = 5 * time.Minute
)

var (
	// ErrMissingIdentity signals that no identity headers were supplied.
	ErrMissingIdentity = errors.New("auth: identity headers missing")
	// ErrInvalidIdentity signals malformed identity headers.
	ErrInvalidIdentity = errors.New("auth: identity headers invalid")
	// ErrSignatureInvalid signals a signed identity whose signature or timestamp did not verify.
	ErrSignatureInvalid = errors.New("auth: identity signature invalid")
)

// Authenticator reads the caller identity forwarded by the upstream gateway. When a signing secret
// is configured the headers must carry an HMAC-SHA256 signature over customer, role and timestamp.
type Authenticator struct {
	customerHeader  string
	roleHeader      string
	emailHeader     string
	signatureHeader string
	timestampHeader string

	secret    []byte
	clockSkew time.Duration
	now       func() time.Time
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithHeaders overrides the identity header names. Empty values keep the defaults.
func WithHeaders(customer, role, email string) Option {
	return func(a *Authenticator) {
		if customer = strings.TrimSpace(customer); customer != "" {
			a.customerHeader = customer
		}
		if role = strings.TrimSpace(role); role != "" {
			a.roleHeader = role
		}
		if email = strings.TrimSpace(email); email != "" {
			a.emailHeader = email
		}
	}
}

// WithSigningSecret requires signed identity headers.
func WithSigningSecret(secret string) Option {
	return func(a *Authenticator) {
		if secret = strings.TrimSpace(secret); secret != "" {
			a.secret = []byte(secret)
		}
	}
}

// WithClockSkew adjusts the accepted timestamp skew for signed identities.
func WithClockSkew(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.clockSkew = d
		}
	}
}

// WithClock injects a custom clock, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuthenticator constructs an Authenticator for middleware composition.
func NewAuthenticator(opts ...Option) *Authenticator {
	a := &Authenticator{
		customerHeader:  DefaultCustomerHeader,
		roleHeader:      DefaultRoleHeader,
		emailHeader:     DefaultEmailHeader,
		signatureHeader: DefaultSignatureHeader,
		timestampHeader: DefaultTimestampHeader,
		clockSkew:       defaultClockSkew,
		now:             time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Identify attaches the caller identity when one is present. Requests without identity headers
// continue anonymously; malformed or badly signed headers are rejected.
func (a *Authenticator) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := a.Authenticate(r)
		switch {
		case errors.Is(err, ErrMissingIdentity):
			next.ServeHTTP(w, r)
		case err != nil:
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_identity", err.Error(), http.StatusUnauthorized))
		default:
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		}
	})
}

// Authenticate parses and verifies the identity headers on r.
func (a *Authenticator) Authenticate(r *http.Request) (*Identity, error) {
	customerID := strings.TrimSpace(r.Header.Get(a.customerHeader))
	rawRole := strings.ToLower(strings.TrimSpace(r.Header.Get(a.roleHeader)))
	if customerID == "" && rawRole == "" {
		return nil, ErrMissingIdentity
	}
	if customerID == "" || len(customerID) > 128 {
		return nil, ErrInvalidIdentity
	}
	role, err := domain.ParseRole(rawRole)
	if err != nil {
		return nil, ErrInvalidIdentity
	}

	if len(a.secret) > 0 {
		if err := a.verifySignature(r, customerID, role); err != nil {
			return nil, err
		}
	}

	return &Identity{
		CustomerID: customerID,
		Role:       role,
		Email:      strings.TrimSpace(r.Header.Get(a.emailHeader)),
	}, nil
}

func (a *Authenticator) verifySignature(r *http.Request, customerID string, role domain.Role) error {
	rawTS := strings.TrimSpace(r.Header.Get(a.timestampHeader))
	signature := strings.TrimSpace(r.Header.Get(a.signatureHeader))
	if rawTS == "" || signature == "" {
		return ErrSignatureInvalid
	}
	unix, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return ErrSignatureInvalid
	}
	ts := time.Unix(unix, 0)
	skew := a.now().Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > a.clockSkew {
		return ErrSignatureInvalid
	}

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return ErrSignatureInvalid
	}
	expected := signIdentity(a.secret, customerID, role, rawTS)
	if !hmac.Equal(provided, expected) {
		return ErrSignatureInvalid
	}
	return nil
}

// Sign returns the hex signature an upstream gateway attaches for the given identity.
func Sign(secret, customerID string, role domain.Role, ts time.Time) string {
	return hex.EncodeToString(signIdentity([]byte(secret), customerID, role, strconv.FormatInt(ts.Unix(), 10)))
}

func signIdentity(secret []byte, customerID string, role domain.Role, ts string) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(customerID))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(role))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(ts))
	return mac.Sum(nil)
}

// RequireRole rejects requests without an identity (401) or without one of roles (403).
func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "caller identity required", http.StatusUnauthorized))
				return
			}
			if len(roles) > 0 && !identity.HasAnyRole(roles...) {
				httpx.WriteError(r.Context(), w, httpx.NewError("forbidden", "caller role not permitted", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
