package face

import "context"

type originKey struct{}

// Origin identifies who submitted a frame. It travels in the context so the
// pipeline can tag its events without a wider signature.
type Origin struct {
	Source    string
	SessionID string
}

func WithOrigin(ctx context.Context, origin Origin) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// OriginFrom returns the origin stored in ctx, or an "unknown" source.
func OriginFrom(ctx context.Context) Origin {
	if origin, ok := ctx.Value(originKey{}).(Origin); ok {
		return origin
	}
	return Origin{Source: "unknown"}
}
