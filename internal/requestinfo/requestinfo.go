package requestinfo

import "context"

type ctxKey struct{}

// Client identifies the caller of a request
type Client struct {
	IP        string
	UserAgent string
}

// WithClient stores the caller's network details on ctx
func WithClient(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, ctxKey{}, Client{IP: ip, UserAgent: userAgent})
}

// FromContext returns the caller stored on ctx, or a zero Client
func FromContext(ctx context.Context) Client {
	client, _ := ctx.Value(ctxKey{}).(Client)
	return client
}
