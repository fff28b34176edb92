package tooling

import "context"

type nodeIDKey struct{}

// WithNodeID marks ctx as belonging to a tool call made by nodeID.
func WithNodeID(ctx context.Context, nodeID string) context.Context {
	return context.WithValue(ctx, nodeIDKey{}, nodeID)
}

// NodeID returns the node a tool call was made by, if any.
func NodeID(ctx context.Context) string {
	id, _ := ctx.Value(nodeIDKey{}).(string)
	return id
}
