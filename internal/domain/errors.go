package domain

import (
	"errors"
	"fmt"
)

// Error codes raised by the achievement store and registry
const (
	ErrCodeRequiredParameterMissing = "REQUIRED_PARAMETER_MISSING"
	ErrCodeInvalidType              = "INVALID_TYPE"
	ErrCodeInvalidTargetType        = "INVALID_TARGET_TYPE"
	ErrCodeTargetNotFound           = "TARGET_NOT_FOUND"
	ErrCodeAchievementNotFound      = "ACHIEVEMENT_NOT_FOUND"
	ErrCodeStorageMalformed         = "STORAGE_MALFORMED"
	ErrCodeNoConnectionData         = "NO_CONNECTION_DATA"
	ErrCodeUnknownBackend           = "UNKNOWN_BACKEND"
)

// AchievementsError is the typed error returned by every layer of the module
type AchievementsError struct {
	Code    string
	Message string
	Err     error
}

func (e *AchievementsError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AchievementsError) Unwrap() error {
	return e.Err
}

// Is matches any AchievementsError carrying the same code, so callers can
// compare against the sentinels below with errors.Is.
func (e *AchievementsError) Is(target error) bool {
	var t *AchievementsError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewAchievementsError creates a new AchievementsError
func NewAchievementsError(code, message string, err error) *AchievementsError {
	return &AchievementsError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Sentinels for errors.Is
var (
	ErrRequiredParameterMissing = &AchievementsError{Code: ErrCodeRequiredParameterMissing}
	ErrInvalidType              = &AchievementsError{Code: ErrCodeInvalidType}
	ErrInvalidTargetType        = &AchievementsError{Code: ErrCodeInvalidTargetType}
	ErrTargetNotFound           = &AchievementsError{Code: ErrCodeTargetNotFound}
	ErrAchievementNotFound      = &AchievementsError{Code: ErrCodeAchievementNotFound}
	ErrStorageMalformed         = &AchievementsError{Code: ErrCodeStorageMalformed}
	ErrNoConnectionData         = &AchievementsError{Code: ErrCodeNoConnectionData}
	ErrUnknownBackend           = &AchievementsError{Code: ErrCodeUnknownBackend}
)

// RequiredParameterMissing returns an error for an absent mandatory argument
func RequiredParameterMissing(param string) *AchievementsError {
	return NewAchievementsError(ErrCodeRequiredParameterMissing,
		fmt.Sprintf("parameter %q is required", param), nil)
}

// InvalidType returns an error for an argument of the wrong type
func InvalidType(param, expected string, got any) *AchievementsError {
	return NewAchievementsError(ErrCodeInvalidType,
		fmt.Sprintf("parameter %q must be %s, got %T", param, expected, got), nil)
}

// InvalidValue returns an InvalidType error for a well-typed but unusable value
func InvalidValue(param, reason string) *AchievementsError {
	return NewAchievementsError(ErrCodeInvalidType,
		fmt.Sprintf("parameter %q %s", param, reason), nil)
}

// InvalidTargetType returns an error when the stored value at key has the wrong shape
func InvalidTargetType(key, expected string, got any) *AchievementsError {
	return NewAchievementsError(ErrCodeInvalidTargetType,
		fmt.Sprintf("target %q must be %s, got %s", key, expected, describeJSON(got)), nil)
}

// TargetNotFound returns an error for an achievement id absent from its community
func TargetNotFound(achievementID int, communityID string) *AchievementsError {
	return NewAchievementsError(ErrCodeTargetNotFound,
		fmt.Sprintf("achievement %d not found in community %s", achievementID, communityID), nil)
}

// AchievementNotFound returns an error for a missing progress or completion entry
func AchievementNotFound(kind string, achievementID int, memberID string) *AchievementsError {
	return NewAchievementsError(ErrCodeAchievementNotFound,
		fmt.Sprintf("%s for achievement %d not found for member %s", kind, achievementID, memberID), nil)
}

// StorageMalformed returns an error for a backing document that is not valid JSON
func StorageMalformed(source string, err error) *AchievementsError {
	return NewAchievementsError(ErrCodeStorageMalformed,
		fmt.Sprintf("storage %s is malformed", source), err)
}

// NoConnectionData returns an error for a remote backend configured without a connection string
func NoConnectionData(backend string) *AchievementsError {
	return NewAchievementsError(ErrCodeNoConnectionData,
		fmt.Sprintf("no connection data for %s backend", backend), nil)
}

// UnknownBackend returns an error for an unsupported storage backend name
func UnknownBackend(name string) *AchievementsError {
	return NewAchievementsError(ErrCodeUnknownBackend,
		fmt.Sprintf("unknown storage backend %q", name), nil)
}

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrTargetNotFound) || errors.Is(err, ErrAchievementNotFound)
}

// IsValidationError checks if an error was caused by bad caller input
func IsValidationError(err error) bool {
	return errors.Is(err, ErrRequiredParameterMissing) ||
		errors.Is(err, ErrInvalidType) ||
		errors.Is(err, ErrInvalidTargetType)
}

func describeJSON(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
