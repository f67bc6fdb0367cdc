package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("disk on fire")

	// When: wrapping with IndexError
	ie := New(ErrCodeDiskFull, "cannot write vectors", originalErr)

	// Then: unwrapping returns the original error
	require.NotNil(t, ie)
	assert.Equal(t, originalErr, errors.Unwrap(ie))
	assert.True(t, errors.Is(ie, originalErr))
}

func TestIndexError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{"config", ErrCodeConfigInvalid, "bad threshold", "[ERR_102_CONFIG_INVALID] bad threshold"},
		{"no index", ErrCodeNoIndex, "no index found", "[ERR_207_NO_INDEX] no index found"},
		{"lock", ErrCodeBuildInProgress, "build in progress", "[ERR_506_BUILD_IN_PROGRESS] build in progress"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, New(tt.code, tt.message, nil).Error())
		})
	}
}

func TestIndexError_Is_MatchesSentinelThroughWrapping(t *testing.T) {
	// Given: a coded error wrapped with fmt.Errorf
	err := fmt.Errorf("build: %w", New(ErrCodeBuildInProgress, "held by pid 42", nil))

	// Then: the sentinel matches and other sentinels do not
	assert.True(t, errors.Is(err, ErrBuildInProgress))
	assert.False(t, errors.Is(err, ErrNoIndex))
	assert.Equal(t, ErrCodeBuildInProgress, GetCode(err))
}

func TestCategoryAndSeverity_DerivedFromCode(t *testing.T) {
	assert.Equal(t, CategoryConfig, New(ErrCodeConfigMismatch, "", nil).Category)
	assert.Equal(t, CategoryIO, New(ErrCodeCorruptIndex, "", nil).Category)
	assert.Equal(t, CategoryEncoder, New(ErrCodeEncoderUnavailable, "", nil).Category)
	assert.Equal(t, CategoryInternal, New(ErrCodeIndexFailed, "", nil).Category)

	assert.Equal(t, SeverityFatal, New(ErrCodeCorruptIndex, "", nil).Severity)
	assert.Equal(t, SeverityWarning, New(ErrCodeConfigMismatch, "", nil).Severity)
	assert.True(t, IsFatal(New(ErrCodeVerifyFailed, "", nil)))
	assert.False(t, IsFatal(errors.New("plain")))
}

func TestExitCode_DistinguishesFailureKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain", errors.New("boom"), ExitError},
		{"no index", New(ErrCodeNoIndex, "missing", nil), ExitNoIndex},
		{"build failed", New(ErrCodeIndexFailed, "failed", nil), ExitBuildFailed},
		{"lock contention", fmt.Errorf("x: %w", New(ErrCodeBuildInProgress, "busy", nil)), ExitBuildFailed},
		{"encoder", New(ErrCodeEncoderUnavailable, "no model", nil), ExitBuildFailed},
		{"verify", New(ErrCodeVerifyFailed, "mismatch", nil), ExitVerifyFailed},
		{"corrupt", New(ErrCodeCorruptIndex, "bad", nil), ExitVerifyFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestFormatForCLI_IncludesHintAndCode(t *testing.T) {
	// Given: an error with a suggestion
	err := New(ErrCodeNoIndex, "no index found in /tmp/x", nil).
		WithSuggestion("Run 'repoindex build' to create one")

	// When: formatting for the CLI
	out := FormatForCLI(err)

	// Then: message, hint and code are present
	assert.Contains(t, out, "Error: no index found in /tmp/x")
	assert.Contains(t, out, "Hint: Run 'repoindex build' to create one")
	assert.Contains(t, out, "Code: ERR_207_NO_INDEX")
}

func TestFormatForCLI_WrapsPlainErrors(t *testing.T) {
	out := FormatForCLI(errors.New("something odd"))
	assert.Contains(t, out, "Error: something odd")
	assert.Contains(t, out, ErrCodeInternal)
}

func TestFormatForLog_IncludesDetails(t *testing.T) {
	err := New(ErrCodeCorruptIndex, "checksum mismatch", errors.New("sha")).
		WithDetail("artifact", "meta.jsonl")

	fields := FormatForLog(err)

	assert.Equal(t, ErrCodeCorruptIndex, fields["error_code"])
	assert.Equal(t, "meta.jsonl", fields["detail_artifact"])
	assert.Equal(t, "sha", fields["cause"])
	assert.Nil(t, FormatForLog(nil))
}
