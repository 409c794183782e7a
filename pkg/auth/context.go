package auth

import (
	"context"

	"github.com/cloudrounds/rounds/pkg/contextkeys"
)

// FromContext extracts the authentication context placed on the request
// context by the auth middleware.
func FromContext(ctx context.Context) (*AuthContext, bool) {
	ac, ok := ctx.Value(contextkeys.AuthKey).(*AuthContext)
	return ac, ok && ac != nil
}
