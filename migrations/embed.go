// Package migrations embeds the lab site schema so the server binary can
// create and upgrade site schemas without a migrations directory on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
