package db

import _ "embed"

// Schema is the PostgreSQL schema applied by `oncall migrate`.
//
//go:embed schema.sql
var Schema string
