package webhook

import (
	"context"
	"log/slog"
	"time"
)

// typingClient is the slice of the Conversations API the coordinator needs.
type typingClient interface {
	SetTyping(ctx context.Context, conversationSID, participantSID string, typing bool) error
}

// stopJoinTimeout bounds how long Stop waits for the background goroutine.
// Cancellation must never stall the webhook critical path.
const stopJoinTimeout = 2 * time.Second

// TypingCoordinator manages the typing-indicator side effect that runs
// concurrently with the agent call. Indicators are best-effort: set and
// clear failures are logged and swallowed, never surfaced to the pipeline.
type TypingCoordinator struct {
	client  typingClient
	timeout time.Duration
	logger  *slog.Logger
}

// NewTypingCoordinator builds a coordinator. timeout is the auto-clear
// horizon applied when the agent outlives the indicator.
func NewTypingCoordinator(client typingClient, timeout time.Duration, logger *slog.Logger) *TypingCoordinator {
	return &TypingCoordinator{client: client, timeout: timeout, logger: logger}
}

// TypingTask is one running indicator. Stop cancels the auto-clear timer and
// joins the background goroutine; the goroutine owns both the set and the
// clear, so the clear happens exactly once and always after the set.
type TypingTask struct {
	cancel context.CancelFunc
	done   chan struct{}

	coord           *TypingCoordinator
	conversationSID string
}

// Start turns the indicator on and schedules the auto-clear. A nil task is
// returned when there is no participant to attribute the indicator to;
// calling Stop on a nil task is a no-op.
func (c *TypingCoordinator) Start(ctx context.Context, conversationSID, participantSID string) *TypingTask {
	if participantSID == "" {
		return nil
	}

	// Detached from the request context: the clear must still run when the
	// request deadline has already fired.
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	task := &TypingTask{
		cancel:          cancel,
		done:            make(chan struct{}),
		coord:           c,
		conversationSID: conversationSID,
	}

	go func() {
		defer close(task.done)

		if err := c.client.SetTyping(taskCtx, conversationSID, participantSID, true); err != nil {
			c.logger.Warn("typing: set failed",
				"conversation_sid", conversationSID, "error", err)
		}

		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-taskCtx.Done():
		}

		clearCtx, clearCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer clearCancel()
		if err := c.client.SetTyping(clearCtx, conversationSID, participantSID, false); err != nil {
			c.logger.Warn("typing: clear failed",
				"conversation_sid", conversationSID, "error", err)
		}
	}()

	return task
}

// Stop cancels the indicator and waits for the background goroutine with a
// bounded join. On join timeout the goroutine still clears on its own.
func (t *TypingTask) Stop() {
	if t == nil {
		return
	}
	t.cancel()

	select {
	case <-t.done:
	case <-time.After(stopJoinTimeout):
		t.coord.logger.Warn("typing: background task did not finish in time",
			"conversation_sid", t.conversationSID)
	}
}
