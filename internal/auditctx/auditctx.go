// Package auditctx carries request metadata from the HTTP edge down to the audit trail.
package auditctx

import "context"

// Client describes where an audited call came from.
type Client struct {
	IPAddress string
	UserAgent string
}

type clientContextKey struct{}

// WithClient returns a context carrying client for audit logging.
func WithClient(ctx context.Context, client Client) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, clientContextKey{}, client)
}

// FromContext extracts client metadata stored by WithClient.
func FromContext(ctx context.Context) (Client, bool) {
	if ctx == nil {
		return Client{}, false
	}
	client, ok := ctx.Value(clientContextKey{}).(Client)
	return client, ok
}
