package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/novachat/backend/internal/model/chat"
	"github.com/zhouzirui/novachat/backend/internal/model/tier"
)

// State is the lifecycle position of a turn.
type State string

const (
	StateUserCommitted State = "user_committed"
	StateStreamOpen    State = "stream_open"
	StateAccumulating  State = "accumulating"
	StateFinalized     State = "finalized"
	StateFailed        State = "failed"
)

// Result summarizes a finished turn.
type Result struct {
	SessionID string
	MessageID string
	Tier      tier.Tier
	State     State
	Content   string
	Fragments int
	Err       error
}

// Turn is one user message plus the streamed assistant reply.
type Turn struct {
	SessionID string
	Tier      tier.Tier

	ctrl        *Controller
	prompt      string
	committed   []chat.Message
	placeholder chat.Message
	state       State
	fragments   int
}

// Run opens the stream and commits every fragment until the stream ends or
// fails. It always finalizes the assistant message and frees the session for
// the next send. Cancellation of ctx is ignored: a turn only ends by
// completion or error.
func (t *Turn) Run(ctx context.Context) (res Result) {
	ctx = context.WithoutCancel(ctx)
	log := t.ctrl.logger.With(zap.String("session", t.SessionID), zap.String("tier", string(t.Tier)))

	defer t.ctrl.release(t.SessionID)
	defer func() {
		if r := recover(); r != nil {
			res = t.fail(log, fmt.Errorf("stream panicked: %v", r))
		}
	}()

	stream, err := t.ctrl.streamer.OpenStream(ctx, t.prompt, t.Tier)
	if err != nil {
		return t.fail(log, err)
	}
	defer stream.Close()
	t.state = StateStreamOpen

	var acc strings.Builder
	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return t.fail(log, err)
		}
		acc.WriteString(fragment)
		t.fragments++
		t.state = StateAccumulating
		t.commit(acc.String(), true)
	}

	t.commit(acc.String(), false)
	t.state = StateFinalized
	log.Info("turn finalized", zap.Int("fragments", t.fragments), zap.Int("length", acc.Len()))
	return t.result(acc.String(), nil)
}

func (t *Turn) fail(log *zap.Logger, err error) Result {
	t.commit(ErrorReply, false)
	t.state = StateFailed
	log.Warn("turn failed", zap.Int("fragments", t.fragments), zap.Error(err))
	return t.result(ErrorReply, err)
}

// commit replaces the session transcript with the committed prefix plus the
// assistant message in its current form.
func (t *Turn) commit(content string, streaming bool) {
	msg := t.placeholder
	msg.Content = content
	msg.Streaming = streaming

	messages := make([]chat.Message, 0, len(t.committed)+1)
	messages = append(messages, t.committed...)
	messages = append(messages, msg)
	t.ctrl.store.AppendMessages(t.SessionID, messages)
}

func (t *Turn) result(content string, err error) Result {
	return Result{
		SessionID: t.SessionID,
		MessageID: t.placeholder.ID,
		Tier:      t.Tier,
		State:     t.state,
		Content:   content,
		Fragments: t.fragments,
		Err:       err,
	}
}
