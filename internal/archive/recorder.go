package archive

import (
	"context"

	"go.uber.org/zap"

	"autochat/internal/bus"
	"autochat/internal/chat"
)

// Recorder subscribes to chat.* bus events and writes them through to the
// archive. It runs independently of the conversation store: a slow disk
// never blocks merging.
type Recorder struct {
	db     *DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewRecorder creates a recorder over the given archive.
func NewRecorder(db *DB, b *bus.Bus, logger *zap.Logger) *Recorder {
	return &Recorder{db: db, bus: b, logger: logger}
}

// Start subscribes to chat events on the bus.
func (r *Recorder) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	ch, unsub := r.bus.Subscribe("chat.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				r.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the recorder.
func (r *Recorder) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Recorder) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case "chat.messages.merged":
		batch, ok := evt.Payload.(chat.MergedBatch)
		if !ok {
			return
		}
		for i := range batch.Messages {
			if err := r.db.UpsertMessage(batch.UserID, &batch.Messages[i]); err != nil {
				r.logger.Error("failed to record message",
					zap.Int64("user_id", batch.UserID), zap.Error(err))
			}
		}

	case "chat.conversation.updated":
		c, ok := evt.Payload.(chat.Conversation)
		if !ok {
			return
		}
		if err := r.db.UpsertConversation(&c); err != nil {
			r.logger.Error("failed to record conversation",
				zap.Int64("user_id", c.UserID), zap.Error(err))
		}

	case "chat.message.status":
		upd, ok := evt.Payload.(chat.StatusUpdate)
		if !ok {
			return
		}
		if err := r.db.SetMessageStatus(upd.UserID, upd.ClientID, upd.Status); err != nil {
			r.logger.Error("failed to record message status",
				zap.String("client_id", upd.ClientID), zap.Error(err))
		}
	}
}
