// Package db provides the embedded database schema and the starter catalog.
package db

import _ "embed"

// Schema contains the DDL statements for all catalog tables.
//
//go:embed migrations/001_schema.sql
var Schema string

// SeedCatalog contains the JSON starter catalog loaded into an empty store.
//
//go:embed seed/catalog.json
var SeedCatalog []byte
