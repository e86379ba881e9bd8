package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eliteGoblin/focusd/site_gate/internal/domain"
)

// RetentionWindow is how long entries are kept in every append-only log.
const RetentionWindow = 7 * 24 * time.Hour

// Trim drops entries with ts <= now-window. Entries are appended in
// non-decreasing ts order, so only the head needs to be inspected before
// deciding whether a filtering pass is needed at all.
func Trim[T domain.Timestamped](log []T, now time.Time, window time.Duration) []T {
	if len(log) == 0 {
		return log
	}
	cutoff := now.Add(-window).Unix()
	if log[0].Timestamp() > cutoff {
		return log
	}

	kept := log[:0:0]
	for _, e := range log {
		if e.Timestamp() > cutoff {
			kept = append(kept, e)
		}
	}
	return kept
}

// AppendTrimmed appends e and applies the retention window.
func AppendTrimmed[T domain.Timestamped](log []T, e T, now time.Time, window time.Duration) []T {
	return Trim(append(log, e), now, window)
}

// appendLog appends e to the log stored under key and writes the trimmed log back.
func appendLog[T domain.Timestamped](ctx context.Context, store domain.Store, key string, e T, now time.Time) error {
	log, err := load[[]T](ctx, store, key)
	if err != nil {
		return err
	}
	log = AppendTrimmed(log, e, now, RetentionWindow)
	if err := store.Set(ctx, key, log); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// resetLog replaces the log stored under key with the single entry e.
func resetLog[T domain.Timestamped](ctx context.Context, store domain.Store, key string, e T) error {
	if err := store.Set(ctx, key, []T{e}); err != nil {
		return fmt.Errorf("failed to reset %s: %w", key, err)
	}
	return nil
}

// isUndecodable reports whether err came from a stored value that no longer
// decodes into its type.
func isUndecodable(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
