package cache

import (
	"context"
	"fmt"
	"log/slog"
)

// SafeInvalidatePattern safely invalidates cache pattern with logging
func SafeInvalidatePattern(ctx context.Context, helper *CacheHelper, pattern string) {
	if err := helper.InvalidatePattern(ctx, pattern); err != nil {
		slog.ErrorContext(ctx, "Failed to invalidate cache pattern",
			"error", err,
			"pattern", pattern)
	}
}

// SafeDelete safely deletes cache keys with logging
func SafeDelete(ctx context.Context, helper *CacheHelper, keys ...string) {
	if err := helper.Delete(ctx, keys...); err != nil {
		slog.ErrorContext(ctx, "Failed to delete cache keys",
			"error", err,
			"keys", keys)
	}
}

// InvalidateTestCache drops every cached view touched by a test mutation:
// the test itself, its list pages and any statistics derived from it.
func InvalidateTestCache(ctx context.Context, cm *CacheManager, testID uint) {
	SafeDelete(ctx, cm.Test,
		fmt.Sprintf("id:%d", testID),
		fmt.Sprintf("questions:%d", testID))

	SafeInvalidatePattern(ctx, cm.Test, "list:*")
	SafeInvalidatePattern(ctx, cm.Stats, fmt.Sprintf("test:%d:*", testID))
}

// InvalidateAttemptCache drops cached attempt state and the statistics scopes
// a finalized attempt feeds into.
func InvalidateAttemptCache(ctx context.Context, cm *CacheManager, attemptID uint, studentID string, testID uint) {
	SafeDelete(ctx, cm.Attempt,
		fmt.Sprintf("id:%d", attemptID),
		fmt.Sprintf("active:%s:%d", studentID, testID))

	SafeInvalidatePattern(ctx, cm.Stats, fmt.Sprintf("test:%d:*", testID))
	SafeInvalidatePattern(ctx, cm.Stats, fmt.Sprintf("student:%s:*", studentID))
	SafeInvalidatePattern(ctx, cm.Stats, "grade:*")
	SafeInvalidatePattern(ctx, cm.Stats, "school:*")
}
