package config

import (
	"context"

	"github.com/tillu/branchbus/pkg/confwatch"
)

// Watch reloads the server config at path whenever it changes and passes the
// result to onChange. Atomic saves are seen. A reload that fails validation
// is logged and skipped. Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	return confwatch.Watch(ctx, path, Load, onChange)
}
