package models

import (
	"errors"
	"fmt"
	"strings"
)

// Input-validation errors. Surfaced immediately, never retried.
var (
	ErrInvalidFilter     = errors.New("invalid filter")
	ErrInvalidWeight     = errors.New("invalid fusion weight")
	ErrInvalidK          = errors.New("k must be >= 1")
	ErrInvalidMode       = errors.New("invalid retrieval mode")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Resource-unavailability errors. The operation aborts; nothing is substituted.
var (
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	ErrReplayCacheMiss    = errors.New("replay cache miss")
	ErrFetchFailed        = errors.New("embedding fetch failed")
)

// Integrity errors. Always fatal, never repaired.
var (
	ErrCacheIntegrity = errors.New("cache integrity violation")
	ErrCacheFormat    = errors.New("cache file format mismatch")
	ErrCacheReadOnly  = errors.New("cache opened read-only")
	ErrScoreShape     = errors.New("score vector does not match candidate set")
)

// Verdict-derived errors, produced only when a caller converts a result value into a hard stop.
var (
	ErrParityViolation  = errors.New("evidence parity violation")
	ErrNondeterministic = errors.New("pipeline output is not deterministic")
)

// InvalidFilterError names the offending filter field.
type InvalidFilterError struct {
	Field  string
	Reason string
}

func (e *InvalidFilterError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidFilter.Error(), e.Field, e.Reason)
}

func (e *InvalidFilterError) Unwrap() error { return ErrInvalidFilter }

// InvalidWeightError carries the rejected alpha.
type InvalidWeightError struct {
	Alpha  float64
	Reason string
}

func (e *InvalidWeightError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: alpha=%v: %s", ErrInvalidWeight.Error(), e.Alpha, e.Reason)
	}
	return fmt.Sprintf("%s: alpha=%v not in [0,1]", ErrInvalidWeight.Error(), e.Alpha)
}

func (e *InvalidWeightError) Unwrap() error { return ErrInvalidWeight }

// DimensionMismatchError names the candidate whose vector length differs from the query.
type DimensionMismatchError struct {
	ID       string
	Expected int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s: %s has %d, query has %d", ErrDimensionMismatch.Error(), e.ID, e.Got, e.Expected)
}

func (e *DimensionMismatchError) Unwrap() error { return ErrDimensionMismatch }

// CatalogUnavailableError reports a corpus whose catalog cannot be opened.
type CatalogUnavailableError struct {
	Corpus string
	Path   string
	Cause  error
}

func (e *CatalogUnavailableError) Error() string {
	msg := fmt.Sprintf("%s: corpus %q (%s)", ErrCatalogUnavailable.Error(), e.Corpus, e.Path)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *CatalogUnavailableError) Unwrap() error { return ErrCatalogUnavailable }

// ReplayCacheMissError reports an embedding that replay mode needed but the cache lacks.
type ReplayCacheMissError struct {
	Key     string
	ModelID string
}

func (e *ReplayCacheMissError) Error() string {
	return fmt.Sprintf("%s: model %q key %s", ErrReplayCacheMiss.Error(), e.ModelID, e.Key)
}

func (e *ReplayCacheMissError) Unwrap() error { return ErrReplayCacheMiss }

// FetchError reports an online fetch that failed after retries.
type FetchError struct {
	Key      string
	ModelID  string
	Attempts int
	Cause    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: model %q key %s after %d attempt(s): %v",
		ErrFetchFailed.Error(), e.ModelID, e.Key, e.Attempts, e.Cause)
}

// Unwrap exposes both the sentinel and the provider cause to errors.Is / errors.As.
func (e *FetchError) Unwrap() []error { return []error{ErrFetchFailed, e.Cause} }

// CacheIntegrityError reports an attempted overwrite of a key with a different vector.
type CacheIntegrityError struct {
	Key      string
	Expected string
	Observed string
}

func (e *CacheIntegrityError) Error() string {
	return fmt.Sprintf("%s: key %s holds %s, refused %s", ErrCacheIntegrity.Error(), e.Key, e.Expected, e.Observed)
}

func (e *CacheIntegrityError) Unwrap() error { return ErrCacheIntegrity }

// FormatError reports a persisted cache file that fails structural validation.
type FormatError struct {
	Path   string
	Offset int64
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: %s at offset %d: %s", ErrCacheFormat.Error(), e.Path, e.Offset, e.Reason)
}

func (e *FormatError) Unwrap() error { return ErrCacheFormat }

// ParityViolationError lists the evidence ids absent from the fused top-k.
type ParityViolationError struct {
	Missing []string
}

func (e *ParityViolationError) Error() string {
	return fmt.Sprintf("%s: missing %s", ErrParityViolation.Error(), strings.Join(e.Missing, ", "))
}

func (e *ParityViolationError) Unwrap() error { return ErrParityViolation }
