package config

import (
	"context"

	"github.com/tillu/branchbus/pkg/confwatch"
)

// Watch reloads the producer config at path on change, including saves that
// rename a temp file over it. Invalid reloads are skipped. It blocks until
// ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	return confwatch.Watch(ctx, path, Load, onChange)
}
