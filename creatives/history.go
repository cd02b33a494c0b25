package creatives

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// recordChannelMessage adds m to the channel history. Redelivered
// gateway events are ignored.
func (b *Bot) recordChannelMessage(ctx context.Context, m *discordgo.Message) {
	if m.Content == "" {
		return
	}
	cm := newChannelMessage(m)
	err := b.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&cm).Error
		},
	)
	if err != nil {
		b.logger.WarnContext(
			ctx,
			"error recording channel message",
			"channel_id", m.ChannelID,
			"message_id", m.ID,
			tint.Err(err),
		)
	}
}

// pruneChannelHistory deletes all but the newest keep messages in each
// channel, returning the number of rows removed.
func pruneChannelHistory(ctx context.Context, db DBI, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	var removed int64
	err := db.Transaction(
		ctx, func(tx *gorm.DB) error {
			res := tx.Exec(
				`DELETE FROM channel_messages WHERE id IN (
					SELECT id FROM (
						SELECT id, ROW_NUMBER() OVER (
							PARTITION BY channel_id ORDER BY created_at DESC, id DESC
						) AS rn FROM channel_messages
					) ranked WHERE rn > ?
				)`,
				keep,
			)
			removed = res.RowsAffected
			return res.Error
		},
	)
	if err != nil {
		return 0, fmt.Errorf("error pruning channel history: %w", err)
	}
	return removed, nil
}

func (b *Bot) pruneHistoryJob() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	removed, err := pruneChannelHistory(ctx, b.db, b.config.Automod.ChannelHistoryLimit)
	if err != nil {
		b.logger.Error("channel history prune failed", tint.Err(err))
		return
	}
	if removed > 0 {
		b.logger.Info("pruned channel history", "removed", removed)
	}
}
