package migrations

import "embed"

// FS contains the embedded SQL migrations, one directory per migration set.
//
//go:embed fact_flights
var FS embed.FS
