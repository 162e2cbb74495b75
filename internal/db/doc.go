// Package db owns the relational store behind every stage.
//
// A Store opens one gorm connection pool (embedded sqlite or postgres) and
// hands out Sessions. A Session wraps a single transaction; Release commits
// it when the pipeline error is nil and rolls it back otherwise, exactly
// once per session.
package db
