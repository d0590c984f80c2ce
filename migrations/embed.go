// Package migrations holds the schema as numbered SQL files, embedded
// so the binary migrates its own database at startup.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
