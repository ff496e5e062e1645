package interceptors

import "context"

type contextKey struct{ name string }

var (
	identityKey    = contextKey{"identity"}
	requestMetaKey = contextKey{"request_meta"}
)

// Identity is the authenticated caller, taken from a validated access token.
type Identity struct {
	UserID     string
	SessionID  string
	Email      string
	Roles      []string
	ActiveRole string
}

// RequestMeta is what the transport knows about the caller's connection.
type RequestMeta struct {
	IP        string
	UserAgent string
	DeviceID  string
}

// WithIdentity returns a context carrying id.
// Handlers read it via IdentityFrom, GetUserID, GetSessionID.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the caller identity and true if set; otherwise a zero Identity, false.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// GetUserID returns the user_id from context and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	id, ok := IdentityFrom(ctx)
	if !ok || id.UserID == "" {
		return "", false
	}
	return id.UserID, true
}

// GetSessionID returns the session_id from context and true if set; otherwise "", false.
func GetSessionID(ctx context.Context) (string, bool) {
	id, ok := IdentityFrom(ctx)
	if !ok || id.SessionID == "" {
		return "", false
	}
	return id.SessionID, true
}

// WithRequestMeta returns a context carrying m.
func WithRequestMeta(ctx context.Context, m RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey, m)
}

// RequestMetaFrom returns the request metadata set by the pipeline, or a zero value.
func RequestMetaFrom(ctx context.Context) RequestMeta {
	m, _ := ctx.Value(requestMetaKey).(RequestMeta)
	return m
}
