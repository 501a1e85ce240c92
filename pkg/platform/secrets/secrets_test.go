package secrets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "kycflow/pkg/domain-errors"
)

func TestHashAndVerify(t *testing.T) {
	hash, err := Hash("operator-token")
	require.NoError(t, err)
	assert.NotContains(t, hash, "operator-token")

	assert.NoError(t, Verify("operator-token", hash))
	assert.True(t, dErrors.HasCode(Verify("guess", hash), dErrors.CodeUnauthorized))
}

func TestHashRejectsBadInput(t *testing.T) {
	_, err := Hash("")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = Hash(strings.Repeat("x", 73))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestVerifyMalformedHash(t *testing.T) {
	err := Verify("operator-token", "not-a-bcrypt-hash")
	require.Error(t, err)
	assert.False(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}
