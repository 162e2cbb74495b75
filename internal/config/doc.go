// Package config provides configuration management for stagectl.
// It loads settings from multiple sources, validates them, and exposes a
// typed Config to the rest of the application.
//
// # Configuration Sources
//
// Configuration is resolved in the following order, later sources winning:
//
//	1. Default values (Default)
//	2. A settings file passed with --config (YAML, or TOML when the file
//	   name ends in .toml)
//	3. Environment variables
//
// # Environment Variables
//
// All environment variables use the STAGECTL_ prefix followed by the section
// and field name:
//
//	STAGECTL_DATABASE_DRIVER=postgres
//	STAGECTL_DATABASE_DSN=postgres://user@localhost/pipeline
//	STAGECTL_PIPELINE_STEPS=statistics-creator,measure-statistics
//	STAGECTL_LOGGING_LEVEL=debug
//	STAGECTL_WORKERS_MODE=goroutine
//
// # Settings File
//
//	pipeline:
//	  name: iris
//	  loader: iris-loader
//	  steps: [statistics-creator, measure-statistics]
//	  alerts: [sepal-outlier]
//	database:
//	  driver: sqlite
//	  dsn: iris.db
//
// Relative paths in a settings file (sqlite DSN, data file, alert log, log
// file, metrics textfile) are anchored to the directory holding the file.
//
// Validation uses go-playground/validator struct tags; an invalid value
// aborts Load before any stage is resolved.
package config
