package errors

// Process exit codes for the CLI.
const (
	ExitOK           = 0
	ExitError        = 1
	ExitNoIndex      = 2
	ExitBuildFailed  = 3
	ExitVerifyFailed = 4
)

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	switch GetCode(err) {
	case ErrCodeNoIndex:
		return ExitNoIndex
	case ErrCodeIndexFailed, ErrCodeBuildInProgress, ErrCodeEncoderUnavailable, ErrCodeIndexDisabled:
		return ExitBuildFailed
	case ErrCodeVerifyFailed, ErrCodeCorruptIndex:
		return ExitVerifyFailed
	default:
		return ExitError
	}
}
