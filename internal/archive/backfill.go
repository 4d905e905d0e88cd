package archive

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tgvault/tgvault/internal/store"
	"github.com/tgvault/tgvault/internal/telegram"
)

const (
	defaultBatchSize  = 100
	interBatchDelay   = 500 * time.Millisecond
	defaultTargetSize = 1000
)

// Engine fetches channel history and writes it through the store. One job
// at a time: the scheduler is the only caller of ProcessJob, and the
// ingester borrows SyncNewer for gap recovery.
type Engine struct {
	db     *store.DB
	client RemoteClient
	log    *zap.Logger

	batchSize int
	delay     time.Duration
}

func NewEngine(db *store.DB, client RemoteClient, batchSize int, log *zap.Logger) *Engine {
	if batchSize <= 0 || batchSize > defaultBatchSize {
		batchSize = defaultBatchSize
	}
	return &Engine{
		db:        db,
		client:    client,
		log:       log,
		batchSize: batchSize,
		delay:     interBatchDelay,
	}
}

// ProcessJob runs the two backfill phases for one job: catch-up toward the
// live head, then backward history until the target is met. A nil return
// means the job is done and no more older history is reachable within its
// constraints; the caller owns the status transition.
func (e *Engine) ProcessJob(ctx context.Context, job *store.Job) error {
	ch, err := e.db.GetChannel(job.ChannelID)
	if err != nil {
		return fmt.Errorf("load channel %d: %w", job.ChannelID, err)
	}
	if ch == nil {
		return fmt.Errorf("channel %d not archived", job.ChannelID)
	}

	if _, err := e.SyncNewer(ctx, ch); err != nil {
		return err
	}

	return e.backfillHistory(ctx, job, ch)
}

// SyncNewer fetches forward from the channel's newest known message in
// fixed-size batches until a short batch signals the live head was reached.
// Returns the number of newly archived messages.
func (e *Engine) SyncNewer(ctx context.Context, ch *store.Channel) (int, error) {
	topics := newTopicTitles(e.db, ch.ChannelID)
	total := 0
	minID := ch.NewestMsgID

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		page, err := e.client.GetMessages(ctx, ch.ChannelID, telegram.HistoryRequest{
			MinID:   minID,
			Limit:   e.batchSize,
			Forward: true,
		})
		if err != nil {
			return total, err
		}
		if len(page.Messages) == 0 {
			return total, nil
		}

		inserted, err := e.db.InsertMessages(ch.ChannelID, convertMessages(ch.ChannelID, page.Messages, topics))
		if err != nil {
			return total, fmt.Errorf("insert catch-up batch: %w", err)
		}
		total += inserted

		newest := page.Messages[len(page.Messages)-1]
		if newest.ID <= minID {
			// Server returned nothing above the anchor.
			return total, nil
		}
		minID = newest.ID

		e.log.Debug("catch-up batch archived",
			zap.Int64("channel_id", ch.ChannelID),
			zap.Int("inserted", inserted),
			zap.Int64("newest_id", minID))

		if len(page.Messages) < e.batchSize {
			return total, nil
		}
		if err := sleepCtx(ctx, e.delay); err != nil {
			return total, err
		}
	}
}

// backfillHistory walks backward from the resume cursor until the job's
// target count is met, the date floor is crossed, or the top of history is
// reached. The cursor is persisted after every chunk.
func (e *Engine) backfillHistory(ctx context.Context, job *store.Job, ch *store.Channel) error {
	count, err := e.db.MessageCountForChannel(ch.ChannelID)
	if err != nil {
		return fmt.Errorf("count messages: %w", err)
	}
	if err := e.db.SetJobProgress(job.JobID, count); err != nil {
		return fmt.Errorf("record progress: %w", err)
	}

	target := job.TargetCount
	if target <= 0 {
		target = defaultTargetSize
	}

	cursor := telegram.Cursor{MsgID: job.CursorMsgID, Date: job.CursorMsgDate}
	if cursor.MsgID == 0 {
		// Fresh job: resume from the oldest archived message.
		cursor = telegram.Cursor{MsgID: ch.OldestMsgID, Date: ch.OldestMsgDate}
	}

	topics := newTopicTitles(e.db, ch.ChannelID)

	for count < target {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgs, err := e.client.IterHistoryBefore(ctx, ch.ChannelID, cursor, e.batchSize)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			// Top of history.
			return nil
		}

		floorHit := false
		if job.MinDate > 0 {
			kept := msgs[:0]
			for _, m := range msgs {
				if m.Date < job.MinDate {
					floorHit = true
					continue
				}
				kept = append(kept, m)
			}
			msgs = kept
		}

		if len(msgs) > 0 {
			inserted, err := e.db.InsertMessages(ch.ChannelID, convertMessages(ch.ChannelID, msgs, topics))
			if err != nil {
				return fmt.Errorf("insert backfill chunk: %w", err)
			}
			count += int64(inserted)

			next := telegram.Cursor{MsgID: msgs[0].ID, Date: msgs[0].Date}
			if cursor.MsgID != 0 && next.MsgID >= cursor.MsgID {
				// No forward progress; stop rather than loop on a
				// protocol quirk.
				e.log.Warn("backfill made no progress",
					zap.Int64("channel_id", ch.ChannelID),
					zap.Int64("cursor_id", cursor.MsgID))
				return nil
			}
			cursor = next

			if err := e.db.SetJobCursor(job.JobID, cursor.MsgID, cursor.Date); err != nil {
				return fmt.Errorf("persist cursor: %w", err)
			}
			if err := e.db.SetJobProgress(job.JobID, count); err != nil {
				return fmt.Errorf("record progress: %w", err)
			}

			e.log.Debug("backfill chunk archived",
				zap.Int64("channel_id", ch.ChannelID),
				zap.Int("inserted", inserted),
				zap.Int64("count", count),
				zap.Int64("cursor_id", cursor.MsgID))
		}

		if floorHit {
			return nil
		}
		if err := sleepCtx(ctx, e.delay); err != nil {
			return err
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
