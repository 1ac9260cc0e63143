// Package migrations embeds the ledger schema so binaries and tests apply
// the same versioned SQL through golang-migrate.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
