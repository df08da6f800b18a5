package txerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_NonRetryablePrecedesBlockhashExpired(t *testing.T) {
	// A simulation error that mentions both "blockhash" and a
	// non-retryable phrase must classify as non-retryable (spec.md §4.1
	// ordering note).
	err := errors.New("transaction simulation failed at instruction 2: blockhash not found")
	c := Classify(err)
	require.False(t, c.Retryable)
	require.Equal(t, CodeNonRetryable, c.Kind)
}

func TestClassify_TypedBlockhashExpired(t *testing.T) {
	src := New(CodeBlockhashExpired, "stale")
	c := Classify(src)
	assert.True(t, c.Retryable)
	assert.True(t, c.NeedsResign)
	assert.Equal(t, CodeBlockhashExpired, c.Kind)
}

func TestClassify_MessageBlockhashExpired(t *testing.T) {
	for _, msg := range []string{
		"Blockhash not found",
		"block height exceeded",
		"TransactionExpiredBlockheightExceeded: too old",
	} {
		c := Classify(errors.New(msg))
		assert.Truef(t, c.Retryable, "msg=%q", msg)
		assert.Truef(t, c.NeedsResign, "msg=%q", msg)
	}
}

func TestClassify_NetworkCodes(t *testing.T) {
	for _, msg := range []string{"ECONNRESET", "read: ETIMEDOUT", "dial tcp: ECONNREFUSED"} {
		c := Classify(errors.New(msg))
		assert.Truef(t, c.Retryable, "msg=%q", msg)
		assert.False(t, c.NeedsResign)
	}
}

func TestClassify_HTTPStatus(t *testing.T) {
	c := Classify(errors.New("HTTP 429: Too many requests"))
	assert.True(t, c.Retryable)
	assert.Equal(t, CodeRateLimited, c.Kind)

	c = Classify(errors.New("503 Service unavailable"))
	assert.True(t, c.Retryable)
}

func TestClassify_OtherRetryableWithResign(t *testing.T) {
	c := Classify(errors.New("node is behind: blockhash expired upstream"))
	assert.True(t, c.Retryable)
	assert.True(t, c.NeedsResign)
}

func TestClassify_OtherRetryableWithoutResign(t *testing.T) {
	c := Classify(errors.New("node is unhealthy, try again"))
	assert.True(t, c.Retryable)
	assert.False(t, c.NeedsResign)
}

func TestClassify_DefaultUnknown(t *testing.T) {
	c := Classify(errors.New("something completely unexpected"))
	assert.False(t, c.Retryable)
	assert.Equal(t, codeUnknown, c.Kind)
}

func TestClassify_NonRetryableSubstringsAlwaysNonRetryable(t *testing.T) {
	// Every literal from the closed non-retryable list must classify as
	// non-retryable no matter what else surrounds it.
	for _, s := range nonRetryableSubstrings {
		c := Classify(errors.New("wrapped: " + s + " (extra context)"))
		assert.Falsef(t, c.Retryable, "substring=%q", s)
		assert.Equalf(t, CodeNonRetryable, c.Kind, "substring=%q", s)
	}
}
