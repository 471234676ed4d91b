// Package store provides the persistence backends for the station state
// document: memory, a JSON file, SQLite, PostgreSQL and Redis. Backends are
// selected by name through New.
package store
