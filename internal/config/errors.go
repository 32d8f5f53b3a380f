package config

import "errors"

var (
	// ErrMissingDatabase indicates that the database name is not configured
	ErrMissingDatabase = errors.New("couch.database is required in configuration")

	// ErrInvalidPort indicates that the port is not a number in 1-65535
	ErrInvalidPort = errors.New("couch.port must be a number between 1 and 65535")

	// ErrMissingJWTSubject indicates that a JWT secret is set without a subject
	ErrMissingJWTSubject = errors.New("jwt.subject is required when jwt.secret is set")

	// ErrInvalidLogLevel indicates an unknown log level
	ErrInvalidLogLevel = errors.New("logLevel must be one of debug, info, warn, error")

	// ErrConfigFileNotFound indicates that the config file was not found
	ErrConfigFileNotFound = errors.New("configuration file not found")

	// ErrInvalidConfigFormat indicates that the config file has invalid JSON or YAML
	ErrInvalidConfigFormat = errors.New("invalid configuration file format")
)
