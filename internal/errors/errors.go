package errors

import (
	"fmt"
	"strings"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// CommandError represents a local command execution error
type CommandError struct {
	Command    string
	ExitCode   int
	Message    string
	Suggestion string
}

func (e CommandError) Error() string {
	msg := fmt.Sprintf("Command '%s' failed", e.Command)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit code: %d)", e.ExitCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// ServerError enhances PAM360 API errors with context
func ServerError(operation string, err error) error {
	return UserError{
		Message:    fmt.Sprintf("PAM360 error during %s", operation),
		Suggestion: getServerSuggestion(err),
		Err:        err,
	}
}

// getServerSuggestion returns helpful suggestions based on the API error
func getServerSuggestion(err error) string {
	errStr := err.Error()

	if strings.Contains(errStr, "certificate") || strings.Contains(errStr, "x509") {
		return "PAM360 often runs with a self-signed certificate. Set tls.insecure_skip_verify or point tls.ca_cert at the server certificate"
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		return "Check the server_url value and that the PAM360 port (default 8282) is reachable from this host"
	}
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return "The server did not answer within the request timeout. Raise timeout_ms or check network connectivity"
	}
	if strings.Contains(errStr, "401") || strings.Contains(errStr, "invalid") && strings.Contains(errStr, "token") {
		return "The API token was rejected. Generate a fresh REST API token in PAM360 and run 'pamsync login'"
	}
	return "Run 'pamsync doctor' to verify connectivity and configuration"
}
