package model

import (
	goerrors "errors"

	"github.com/agilira/go-errors"
)

// Error codes shared by every tier of the cache.
const (
	ErrCodeStoreUnavailable  errors.ErrorCode = "DAM_CACHE_STORE_UNAVAILABLE"
	ErrCodeStoreCorrupted    errors.ErrorCode = "DAM_CACHE_STORE_CORRUPTED"
	ErrCodeDecodeFailed      errors.ErrorCode = "DAM_CACHE_DECODE_FAILED"
	ErrCodeEncodeFailed      errors.ErrorCode = "DAM_CACHE_ENCODE_FAILED"
	ErrCodeMalformedKey      errors.ErrorCode = "DAM_CACHE_MALFORMED_KEY"
	ErrCodeSourceUnavailable errors.ErrorCode = "DAM_CACHE_SOURCE_UNAVAILABLE"
	ErrCodeNotFound          errors.ErrorCode = "DAM_CACHE_NOT_FOUND"
	ErrCodeInvalidConfig     errors.ErrorCode = "DAM_CACHE_INVALID_CONFIG"
)

const (
	msgStoreUnavailable  = "persistent store unavailable, running memory-only"
	msgStoreCorrupted    = "persistent store record is corrupted"
	msgDecodeFailed      = "cached entity could not be decoded"
	msgEncodeFailed      = "fetched entity could not be encoded"
	msgMalformedKey      = "malformed cache key"
	msgSourceUnavailable = "entity source request failed"
	msgNotFound          = "entity not found"
	msgInvalidConfig     = "invalid cache configuration"
)

// ErrNotFound is the sentinel miss. Sources may return it (or wrap it) from Fetch.
var ErrNotFound error = errors.NewWithField(ErrCodeNotFound, msgNotFound, "scope", "cache")

func NewErrStoreUnavailable(path string, cause error) error {
	return errors.Wrap(cause, ErrCodeStoreUnavailable, msgStoreUnavailable).
		WithContext("path", path)
}

func NewErrStoreCorrupted(path string, offset int64, details string) error {
	return errors.NewWithContext(ErrCodeStoreCorrupted, msgStoreCorrupted, map[string]interface{}{
		"path":    path,
		"offset":  offset,
		"details": details,
	})
}

func NewErrDecodeFailed(key string, cause error) error {
	return errors.Wrap(cause, ErrCodeDecodeFailed, msgDecodeFailed).
		WithContext("key", key)
}

func NewErrEncodeFailed(key string, cause error) error {
	return errors.Wrap(cause, ErrCodeEncodeFailed, msgEncodeFailed).
		WithContext("key", key)
}

func NewErrMalformedKey(entityType, reason string) error {
	return errors.NewWithContext(ErrCodeMalformedKey, msgMalformedKey, map[string]interface{}{
		"entity_type": entityType,
		"reason":      reason,
	})
}

// NewErrSourceUnavailable wraps a remote failure. It is retryable: cache state was left unchanged.
func NewErrSourceUnavailable(key string, cause error) error {
	return errors.Wrap(cause, ErrCodeSourceUnavailable, msgSourceUnavailable).
		WithContext("key", key).
		AsRetryable()
}

func NewErrNotFound(key string) error {
	return errors.NewWithField(ErrCodeNotFound, msgNotFound, "key", key)
}

func NewErrInvalidConfig(field string, value interface{}) error {
	return errors.NewWithContext(ErrCodeInvalidConfig, msgInvalidConfig, map[string]interface{}{
		"field": field,
		"value": value,
	})
}

func IsNotFound(err error) bool {
	return err != nil && (goerrors.Is(err, ErrNotFound) || errors.HasCode(err, ErrCodeNotFound))
}

func IsSourceUnavailable(err error) bool { return errors.HasCode(err, ErrCodeSourceUnavailable) }
func IsStoreUnavailable(err error) bool  { return errors.HasCode(err, ErrCodeStoreUnavailable) }
func IsDecodeError(err error) bool       { return errors.HasCode(err, ErrCodeDecodeFailed) }
func IsEncodeError(err error) bool       { return errors.HasCode(err, ErrCodeEncodeFailed) }
func IsMalformedKey(err error) bool      { return errors.HasCode(err, ErrCodeMalformedKey) }
func IsStoreCorrupted(err error) bool    { return errors.HasCode(err, ErrCodeStoreCorrupted) }
func IsInvalidConfig(err error) bool     { return errors.HasCode(err, ErrCodeInvalidConfig) }
