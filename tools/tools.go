//go:build tools

package tools

// Pins the goose CLI used to author new files under
// internal/adapters/postgres/migrations.

import (
	_ "github.com/pressly/goose/v3/cmd/goose"
)
