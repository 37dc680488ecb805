package core

import (
	"errors"
	"fmt"
)

// ConfigError is a startup configuration failure with an instruction for the
// operator.
type ConfigError struct {
	Code    string
	Message string
	Action  string
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

// Error codes for configuration errors
const (
	ErrCodeMissingAuth   = "MISSING_AUTH"
	ErrCodeMissingConfig = "MISSING_CONFIG"
	ErrCodeInvalidValue  = "INVALID_VALUE"
	ErrCodeEnvFile       = "ENV_FILE"
)

// ErrMissingAuth reports an absent Hugging Face credential. Generation cannot
// proceed without it, so main treats it as fatal.
func ErrMissingAuth(envVar string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingAuth,
		Message: fmt.Sprintf("%s is not set", envVar),
		Action:  fmt.Sprintf("Create a read token at huggingface.co/settings/tokens and set %s in your .env file", envVar),
	}
}

// ErrMissingConfig reports a required variable with no value.
func ErrMissingConfig(envVar string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingConfig,
		Message: fmt.Sprintf("Missing required configuration: %s", envVar),
		Action:  fmt.Sprintf("Set %s in your .env file", envVar),
	}
}

// ErrInvalidValue reports a variable whose value is out of range or malformed.
func ErrInvalidValue(envVar, value, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf("Invalid %s %q: %s", envVar, value, reason),
		Action:  fmt.Sprintf("Fix %s in your .env file or unset it to use the default", envVar),
	}
}

// ErrEnvFile reports a .env file that exists but could not be parsed.
func ErrEnvFile(path string, cause error) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeEnvFile,
		Message: fmt.Sprintf("Cannot read %s: %v", path, cause),
		Action:  "Check the file for unbalanced quotes or invalid lines",
	}
}

// AsConfigError unwraps err to a *ConfigError if it holds one.
func AsConfigError(err error) (*ConfigError, bool) {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// ErrorCode returns the ConfigError code carried by err, or "".
func ErrorCode(err error) string {
	if ce, ok := AsConfigError(err); ok {
		return ce.Code
	}
	return ""
}
