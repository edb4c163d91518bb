package obs

import "context"

type routePatternKey struct{}

// WithRoutePattern records the chi route pattern so metrics and logs can
// label requests by route instead of raw URL path.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, routePatternKey{}, pattern)
}

// RoutePatternFromContext returns the recorded route pattern, or "" when the
// request never matched a route.
func RoutePatternFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	p, _ := ctx.Value(routePatternKey{}).(string)
	return p
}
