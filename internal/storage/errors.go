package storage

import "errors"

// Connection errors
var (
	ErrConnectionFailed = errors.New("failed to connect to database")
	ErrPoolClosed       = errors.New("connection pool closed")
)

// Schema errors
var (
	ErrTableNotFound  = errors.New("table not found")
	ErrNoColumns      = errors.New("no columns to create")
	ErrInvalidName    = errors.New("invalid identifier")
	ErrColumnMismatch = errors.New("row width does not match column count")
)

// Validation errors
var (
	ErrValidationProcedure = errors.New("validation procedure failed")
)
