package domain

import "errors"

var (
	ErrMissingAPIKey  = errors.New("api key is required")
	ErrMissingMessage = errors.New("message is required")
)

var (
	ErrInvalidMode       = errors.New("invalid search mode")
	ErrInvalidMaxResults = errors.New("max search results must be between 1 and 50")
	ErrInvalidCountry    = errors.New("country must be a two-letter ISO code")
	ErrInvalidDate       = errors.New("date must be in YYYY-MM-DD format")
	ErrInvalidURL        = errors.New("invalid url")
	ErrUnknownModel      = errors.New("unknown model")
)
