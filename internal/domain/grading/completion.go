package grading

import (
	"time"

	"github.com/tincanhub/tincan-launch/internal/domain/xapi"
)

// EvaluateCompletion reduces a fetched statement set to a completion
// boolean.
//
// An empty set (or a failed fetch upstream, which never reaches here)
// means not completed. A non-empty set means completed, unless an
// expiry cutoff is supplied and any statement in the set is older than
// the cutoff.
//
// The "any expired statement disqualifies" rule is deliberate: a stale
// statement mixed with fresh ones flips the verdict to false even when
// a fresh statement alone would satisfy it. See DESIGN.md for the
// reasoning behind keeping this conservative semantic.
func EvaluateCompletion(statements []xapi.Statement, expiryCutoff *time.Time) bool {
	if len(statements) == 0 {
		return false
	}

	completed := true
	if expiryCutoff != nil {
		for _, st := range statements {
			if st.Timestamp.Before(*expiryCutoff) {
				completed = false
			}
		}
	}
	return completed
}
