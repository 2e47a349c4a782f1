package exitcodes

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestGetInnerErrorAndExitCode(t *testing.T) {
	err, code := GetInnerErrorAndExitCode(nil)
	assert.NoError(t, err)
	assert.Equal(t, ExitCodeSuccess, code)

	plain := errors.New("plain")
	err, code = GetInnerErrorAndExitCode(plain)
	assert.Equal(t, plain, err)
	assert.Equal(t, ExitCodeGeneralError, code)

	inner := errors.New("2 proofs failed")
	err, code = GetInnerErrorAndExitCode(errors.WithMessage(NewErrorWithExitCode(inner, ExitCodeProofFailed), "prove"))
	assert.Equal(t, inner, err)
	assert.Equal(t, ExitCodeProofFailed, code, "exit codes are found through wrapping")
}
