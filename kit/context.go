package kit

import "context"

type ctxKey int

const (
	transportKey ctxKey = iota
	requestIDKey
	remoteAddrKey
)

func value(ctx context.Context, k ctxKey) string {
	v, _ := ctx.Value(k).(string)
	return v
}

// WithTransport records which surface ("http" or "mcp") carries the call.
func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, transportKey, t)
}

// GetTransport defaults to "http".
func GetTransport(ctx context.Context) string {
	if v := value(ctx, transportKey); v != "" {
		return v
	}
	return "http"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func GetRequestID(ctx context.Context) string { return value(ctx, requestIDKey) }

func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey, addr)
}

func GetRemoteAddr(ctx context.Context) string { return value(ctx, remoteAddrKey) }
