// Package errs collects the sentinel errors shared across forgecore's
// pipeline stages, following the per-package sentinel style the rest of the
// module uses (wrap with %w, compare with errors.Is).
package errs

import "errors"

// Backend/LlmBackend failure kinds (spec §4.1, §7).
var (
	ErrUnreachable   = errors.New("backend unreachable")
	ErrTimeout       = errors.New("operation timed out")
	ErrRateLimited   = errors.New("backend rate limited")
	ErrProtocolError = errors.New("backend protocol error")
)

// Store failures (spec §4.3).
var (
	ErrDuplicateID    = errors.New("artifact id already exists")
	ErrArtifactNotFound = errors.New("artifact not found")
)

// Sandbox failures (spec §4.9).
var (
	ErrSandboxTimeout         = errors.New("sandbox timeout")
	ErrSandboxNonZeroExit     = errors.New("sandbox non-zero exit")
	ErrJSONOutputParseError   = errors.New("sandbox stdout is not valid JSON")
)

// Validation and escalation.
var (
	ErrValidationFailed   = errors.New("validation failed")
	ErrEscalationExhausted = errors.New("escalation attempts exhausted")
)

// Cache and classification.
var (
	ErrCacheMiss        = errors.New("no cache candidate")
	ErrSemanticJudgeFailed = errors.New("semantic judge parse failure")
)

// Config and pressure.
var (
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrPressureDenied    = errors.New("pressure manager denied request")
	ErrProviderUnavailable = errors.New("no enabled provider for role/tier")
)

// Toolkit (call_tool).
var (
	ErrToolFailure           = errors.New("tool call failed")
	ErrToolNotFound          = errors.New("tool not found")
	ErrToolNameEmpty         = errors.New("tool name cannot be empty")
	ErrToolExecuteNil        = errors.New("tool execute function cannot be nil")
	ErrToolAlreadyRegistered = errors.New("tool already registered")
	ErrMissingRequiredArg    = errors.New("missing required argument")
)
