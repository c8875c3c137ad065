package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeMessages(t *testing.T) {
	// Ordinals are a public contract; every code must have its message at
	// the matching index.
	assert.Equal(t, "The operation was a success, no error occurred.", CodeNone.Message())
	assert.Equal(t, "The operation had to be aborted due to a network disconnect.", CodeDisconnected.Message())
	assert.Equal(t, "The transaction had too many retries.", CodeMaxRetries.Message())
	assert.Equal(t, "The transaction was overridden by a subsequent set.", CodeOverriddenBySet.Message())
	assert.Equal(t, "This client does not have permission to perform this operation.", CodePermissionDenied.Message())
	assert.Equal(t, "An operation that conflicts with this one is already in progress.", CodeConflictingOperationInProgress.Message())
	assert.Equal(t, "The transaction was aborted by the user's code.", CodeTransactionAbortedByUser.Message())
}

func TestCodeMessageBounds(t *testing.T) {
	assert.Empty(t, Code(-1).Message())
	assert.Empty(t, Code(1000).Message())
	for c := CodeNone; c <= CodeTransactionAbortedByUser; c++ {
		assert.NotEmpty(t, c.Message(), "code %d", int(c))
	}
}

func TestCodeOrdinalsStable(t *testing.T) {
	assert.Equal(t, 0, int(CodeNone))
	assert.Equal(t, 1, int(CodeDisconnected))
	assert.Equal(t, 4, int(CodeMaxRetries))
	assert.Equal(t, 7, int(CodeOverriddenBySet))
	assert.Equal(t, 8, int(CodePermissionDenied))
	assert.Equal(t, 13, int(CodeConflictingOperationInProgress))
	assert.Equal(t, 14, int(CodeTransactionAbortedByUser))
}

func TestNewCode(t *testing.T) {
	require.NoError(t, NewCode(CodeNone))

	err := NewCode(CodePermissionDenied)
	require.Error(t, err)
	assert.Equal(t, CodePermissionDenied.Message(), err.Error())
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeNone, CodeOf(nil))
	assert.Equal(t, CodeMaxRetries, CodeOf(NewCode(CodeMaxRetries)))
	assert.Equal(t, CodeUnknownError, CodeOf(New("plain error")))

	// Codes survive wrapping.
	wrapped := Wrapf(NewCode(CodeOverriddenBySet), "transaction at %q", "scores/alice")
	assert.Equal(t, CodeOverriddenBySet, CodeOf(wrapped))
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "OverriddenBySet", CodeOverriddenBySet.String())
	assert.Equal(t, "Code(99)", Code(99).String())
}
