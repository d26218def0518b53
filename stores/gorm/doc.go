//go:build !wasm
// +build !wasm

// Package gorm provides GORM-based implementations of the tokenauth store
// interfaces. It supports any database GORM supports; Open wires PostgreSQL
// (via pgx) and a pure Go SQLite.
//
// # Database Schema
//
// The package auto-migrates the following tables:
//   - users: user accounts, unique index on email
//   - auth_tokens: refresh and password reset tokens, discriminated by type
//
// # Usage
//
//	db, _ := gormstore.Open(gormstore.DriverPostgres, dsn, nil)
//	_ = gormstore.AutoMigrate(db)
//	store := gormstore.NewStore(db)
package gorm
