package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/aibot/internal/history"
)

// DeleteUserData erases everything the bot holds about userID: converted
// messages they authored and their member-scope settings. Both steps always
// run; their failures are joined.
func (b *Bot) DeleteUserData(ctx context.Context, userID string) error {
	var errs []error

	removed := b.cache.RemoveFunc(func(_ string, cm history.CachedMessage) bool {
		return cm.AuthorID == userID
	})

	if err := b.settings.ClearMember(ctx, userID); err != nil {
		errs = append(errs, fmt.Errorf("clear member settings: %w", err))
	}

	slog.Info("user data erased", "user_id", userID, "cached_messages", removed, "errors", len(errs))
	return errors.Join(errs...)
}
