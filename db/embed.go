// Package db provides the embedded database schema and seed catalog.
package db

import _ "embed"

// Schema contains the idempotent DDL for every table the service uses.
//
//go:embed migrations/001_schema.sql
var Schema string

// SeedBooks is the default catalog loaded by cmd/seed-db, as a JSON array.
//
//go:embed seed/books.json
var SeedBooks []byte
