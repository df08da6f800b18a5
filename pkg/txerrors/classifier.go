package txerrors

import "strings"

// Classification is the pure output of Classify: whether err should be
// retried, whether a retry must re-sign the transaction (because the
// blockhash it was signed against has expired), and a coarse kind for
// logging/metrics.
type Classification struct {
	Retryable   bool
	NeedsResign bool
	Kind        Code
}

// nonRetryableSubstrings are checked first: if any matches, the error is
// never retried regardless of anything else it also says.
var nonRetryableSubstrings = []string{
	"insufficient funds",
	"invalid account data",
	"account not found",
	"signature verification failed",
	"transaction simulation failed at instruction",
	"program failed to complete",
	"already been processed",
}

// blockhashExpiredSubstrings identify a stale-blockhash fault by message
// alone, for RPC backends that don't surface a typed code.
var blockhashExpiredSubstrings = []string{
	"blockhash not found",
	"block height exceeded",
	"transactionexpiredblockheightexceeded",
}

// networkErrorCodes are POSIX/DNS-resolver style codes surfaced by the
// underlying transport on connection failure.
var networkErrorCodes = []string{
	"econnreset",
	"etimedout",
	"enotfound",
	"econnrefused",
	"eai_again",
	"epipe",
}

// otherRetryableSubstrings covers generic "the node is unwell" messages
// that are retryable but not independently coded.
var otherRetryableSubstrings = []string{
	"node is behind",
	"node is unhealthy",
	"behind by",
}

// resignSubstrings, checked only once a message has already matched
// otherRetryableSubstrings, additionally mark the fault as resign-worthy.
var resignSubstrings = []string{
	"blockhash",
	"expired",
}

// Classify maps an opaque error onto a Classification, applying the
// precedence order of spec.md §4.1: non-retryable substrings first, then
// typed/message blockhash-expiry, then network codes, then HTTP status
// patterns, then other retryable substrings, defaulting to non-retryable
// UNKNOWN.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: codeUnknown}
	}

	msg := strings.ToLower(err.Error())

	if containsAny(msg, nonRetryableSubstrings) {
		return Classification{Retryable: false, Kind: CodeNonRetryable}
	}

	if code, ok := CodeOf(err); ok && code == CodeBlockhashExpired {
		return Classification{Retryable: true, NeedsResign: true, Kind: CodeBlockhashExpired}
	}
	if containsAny(msg, blockhashExpiredSubstrings) {
		return Classification{Retryable: true, NeedsResign: true, Kind: CodeBlockhashExpired}
	}

	if containsAny(msg, networkErrorCodes) {
		return Classification{Retryable: true, Kind: codeUnknown}
	}

	if strings.Contains(msg, "429") || strings.Contains(msg, "too many requests") {
		return Classification{Retryable: true, Kind: CodeRateLimited}
	}
	if strings.Contains(msg, "503") || strings.Contains(msg, "service unavailable") {
		return Classification{Retryable: true, Kind: codeServiceUnavailable}
	}

	if containsAny(msg, otherRetryableSubstrings) {
		return Classification{
			Retryable:   true,
			NeedsResign: containsAny(msg, resignSubstrings),
			Kind:        codeUnknown,
		}
	}

	return Classification{Retryable: false, Kind: codeUnknown}
}

func containsAny(msg string, substrings []string) bool {
	for _, s := range substrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
