package conversation_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zhouzirui/novachat/backend/internal/model/chat"
	"github.com/zhouzirui/novachat/backend/internal/model/tier"
	"github.com/zhouzirui/novachat/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/novachat/backend/internal/service/chat"
	"github.com/zhouzirui/novachat/backend/internal/service/conversation"
)

func setup(t *testing.T, streamer ai.Streamer) (*conversation.Controller, *chatservice.Store) {
	t.Helper()
	store := chatservice.NewStore()
	ctrl, err := conversation.New(store, streamer, tier.NewMemoryStore(tier.Seed()), tier.Fast, zap.NewNop())
	require.NoError(t, err)
	return ctrl, store
}

func current(t *testing.T, store *chatservice.Store) chat.Session {
	t.Helper()
	session, ok := store.Current()
	require.True(t, ok)
	return session
}

func TestNewCreatesInitialSession(t *testing.T) {
	_, store := setup(t, newFakeStreamer(script{}))

	session := current(t, store)
	assert.Equal(t, chat.DefaultTitle, session.Title)
	assert.Empty(t, session.Messages)
	assert.Equal(t, 1, store.Len())
}

func TestNewRejectsUnknownTier(t *testing.T) {
	_, err := conversation.New(chatservice.NewStore(), newFakeStreamer(script{}), tier.NewMemoryStore(tier.Seed()), "ultra", zap.NewNop())
	assert.ErrorIs(t, err, tier.ErrUnknownTier)
}

func TestSendAccumulatesFragmentsInOrder(t *testing.T) {
	streamer := newFakeStreamer(script{fragments: []string{"Hel", "lo, ", "world"}})
	ctrl, store := setup(t, streamer)

	res, ok := ctrl.Send(context.Background(), "hi there")
	require.True(t, ok)
	assert.Equal(t, conversation.StateFinalized, res.State)
	assert.Equal(t, 3, res.Fragments)
	assert.NoError(t, res.Err)

	session := current(t, store)
	require.Len(t, session.Messages, 2)
	user, reply := session.Messages[0], session.Messages[1]
	assert.Equal(t, chat.RoleUser, user.Role)
	assert.Equal(t, "hi there", user.Content)
	assert.Equal(t, chat.RoleModel, reply.Role)
	assert.Equal(t, "Hello, world", reply.Content)
	assert.False(t, reply.Streaming)
	assert.Equal(t, res.MessageID, reply.ID)
	assert.False(t, ctrl.Busy(session.ID))

	assert.Equal(t, []openCall{{Message: "hi there", Tier: tier.Fast}}, streamer.Calls())
}

func TestSendGrowsTranscriptByTwoRegardlessOfFragmentCount(t *testing.T) {
	for _, fragments := range [][]string{nil, {"one"}, {"a", "b", "c", "d", "e", "f"}} {
		ctrl, store := setup(t, newFakeStreamer(script{fragments: fragments}))

		for turn := 1; turn <= 3; turn++ {
			_, ok := ctrl.Send(context.Background(), "question")
			require.True(t, ok)
			session := current(t, store)
			require.Len(t, session.Messages, 2*turn)
			assert.Equal(t, strings.Join(fragments, ""), session.Messages[2*turn-1].Content)
		}
	}
}

func TestSendEmptyStreamFinalizesEmptyReply(t *testing.T) {
	ctrl, store := setup(t, newFakeStreamer(script{}))

	res, ok := ctrl.Send(context.Background(), "hello")
	require.True(t, ok)
	assert.Equal(t, conversation.StateFinalized, res.State)

	reply := current(t, store).Messages[1]
	assert.Empty(t, reply.Content)
	assert.False(t, reply.Streaming)
}

func TestFailureAfterPartialOutputReplacesContent(t *testing.T) {
	boom := &ai.ServiceError{Provider: "fake", Op: "recv", Err: errors.New("reset")}
	ctrl, store := setup(t, newFakeStreamer(script{fragments: []string{"Par", "tial"}, failErr: boom}))

	res, ok := ctrl.Send(context.Background(), "hello")
	require.True(t, ok)
	assert.Equal(t, conversation.StateFailed, res.State)
	assert.ErrorIs(t, res.Err, boom)
	assert.Equal(t, 2, res.Fragments)

	session := current(t, store)
	require.Len(t, session.Messages, 2)
	assert.Equal(t, conversation.ErrorReply, session.Messages[1].Content)
	assert.False(t, session.Messages[1].Streaming)
	assert.False(t, ctrl.Busy(session.ID))
}

func TestMissingCredentialFinalizesWithErrorEveryTime(t *testing.T) {
	cfgErr := &ai.ConfigurationError{Provider: "fake", Keys: []string{"API_KEY"}}
	ctrl, store := setup(t, newFakeStreamer(script{openErr: cfgErr}))

	for i := 0; i < 2; i++ {
		res, ok := ctrl.Send(context.Background(), "hello")
		require.True(t, ok)
		var target *ai.ConfigurationError
		assert.ErrorAs(t, res.Err, &target)
	}

	session := current(t, store)
	require.Len(t, session.Messages, 4)
	assert.Equal(t, "hello", session.Messages[0].Content)
	assert.Equal(t, conversation.ErrorReply, session.Messages[1].Content)
	assert.Equal(t, conversation.ErrorReply, session.Messages[3].Content)
}

func TestBlankInputIsIgnored(t *testing.T) {
	streamer := newFakeStreamer(script{})
	ctrl, store := setup(t, streamer)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, ok := ctrl.Send(context.Background(), text)
		assert.False(t, ok)
	}
	assert.Empty(t, current(t, store).Messages)
	assert.Empty(t, streamer.Calls())
}

func TestStoredContentIsNotTrimmed(t *testing.T) {
	ctrl, store := setup(t, newFakeStreamer(script{}))

	_, ok := ctrl.Send(context.Background(), "  padded  ")
	require.True(t, ok)

	session := current(t, store)
	assert.Equal(t, "  padded  ", session.Messages[0].Content)
	assert.Equal(t, "  padded  ", session.Title)
}

func TestTitleFromFirstMessageOnly(t *testing.T) {
	ctrl, store := setup(t, newFakeStreamer(script{}))

	_, ok := ctrl.Send(context.Background(), "hello")
	require.True(t, ok)
	assert.Equal(t, "hello", current(t, store).Title)

	_, ok = ctrl.Send(context.Background(), "a different second message")
	require.True(t, ok)
	assert.Equal(t, "hello", current(t, store).Title)
}

func TestTitleTruncatesLongMessage(t *testing.T) {
	ctrl, store := setup(t, newFakeStreamer(script{}))
	text := "abcdefghijklmnopqrstuvwxyz0123456789ABCD"
	require.Len(t, text, 40)

	_, ok := ctrl.Send(context.Background(), text)
	require.True(t, ok)
	assert.Equal(t, text[:30]+"...", current(t, store).Title)
}

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "short", conversation.DeriveTitle("short"))
	exact := strings.Repeat("x", 30)
	assert.Equal(t, exact, conversation.DeriveTitle(exact))
	assert.Equal(t, exact+"...", conversation.DeriveTitle(exact+"y"))
	accented := strings.Repeat("é", 31)
	assert.Equal(t, strings.Repeat("é", 30)+"...", conversation.DeriveTitle(accented))
}

func TestSecondSendWhileBusyIsIgnored(t *testing.T) {
	gate := make(chan struct{})
	streamer := newFakeStreamer(script{fragments: []string{"slow"}, gate: gate})
	ctrl, store := setup(t, streamer)
	sessionID := current(t, store).ID

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctrl.Send(context.Background(), "first")
	}()
	<-streamer.opened

	assert.True(t, ctrl.Busy(sessionID))
	session := current(t, store)
	require.Len(t, session.Messages, 2)
	assert.True(t, session.Messages[1].Streaming)
	assert.Empty(t, session.Messages[1].Content)

	_, ok := ctrl.Send(context.Background(), "second")
	assert.False(t, ok)
	assert.Len(t, current(t, store).Messages, 2)
	assert.Len(t, streamer.Calls(), 1)

	close(gate)
	wg.Wait()

	session = current(t, store)
	require.Len(t, session.Messages, 2)
	assert.Equal(t, "slow", session.Messages[1].Content)
	assert.False(t, ctrl.Busy(sessionID))
}

func TestOnlyOneStreamingMessageWhileAccumulating(t *testing.T) {
	var store *chatservice.Store
	var observed []chat.Message
	check := func() {
		session := current(t, store)
		streaming := 0
		for _, m := range session.Messages {
			if m.Streaming {
				streaming++
			}
		}
		assert.Equal(t, 1, streaming)
		observed = append(observed, session.Messages[len(session.Messages)-1])
	}

	streamer := newFakeStreamer(
		script{fragments: []string{"done"}},
		script{fragments: []string{"a", "b"}, onRecv: check},
	)
	var ctrl *conversation.Controller
	ctrl, store = setup(t, streamer)

	_, ok := ctrl.Send(context.Background(), "first")
	require.True(t, ok)
	_, ok = ctrl.Send(context.Background(), "second")
	require.True(t, ok)

	require.Len(t, observed, 3)
	assert.Equal(t, "", observed[0].Content)
	assert.Equal(t, "a", observed[1].Content)
	assert.Equal(t, "ab", observed[2].Content)

	session := current(t, store)
	require.Len(t, session.Messages, 4)
	assert.Equal(t, "done", session.Messages[1].Content)
	assert.Equal(t, "ab", session.Messages[3].Content)
	assert.False(t, session.Messages[3].Streaming)
}

func TestSwitchingTierKeepsPriorMessages(t *testing.T) {
	streamer := newFakeStreamer(
		script{fragments: []string{"fast answer"}},
		script{fragments: []string{"deep answer"}},
	)
	ctrl, store := setup(t, streamer)

	_, ok := ctrl.Send(context.Background(), "one")
	require.True(t, ok)
	before := current(t, store).Messages

	require.NoError(t, ctrl.SelectTier(tier.Reasoning))
	_, ok = ctrl.Send(context.Background(), "two")
	require.True(t, ok)

	after := current(t, store).Messages
	require.Len(t, after, 4)
	assert.Equal(t, before, after[:2])
	assert.Equal(t, []openCall{{"one", tier.Fast}, {"two", tier.Reasoning}}, streamer.Calls())
}

func TestTierCapturedAtSendTime(t *testing.T) {
	gate := make(chan struct{})
	streamer := newFakeStreamer(script{fragments: []string{"x"}, gate: gate})
	ctrl, _ := setup(t, streamer)

	turn, ok := ctrl.Begin("question")
	require.True(t, ok)
	require.NoError(t, ctrl.SelectTier(tier.Reasoning))

	done := make(chan conversation.Result)
	go func() { done <- turn.Run(context.Background()) }()
	close(gate)
	res := <-done

	assert.Equal(t, tier.Fast, res.Tier)
	assert.Equal(t, tier.Fast, streamer.Calls()[0].Tier)
	assert.Equal(t, tier.Reasoning, ctrl.Tier())
}

func TestCancelledContextDoesNotAbortTurn(t *testing.T) {
	ctrl, store := setup(t, newFakeStreamer(script{fragments: []string{"still", " here"}}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, ok := ctrl.Send(ctx, "hello")
	require.True(t, ok)
	assert.Equal(t, conversation.StateFinalized, res.State)
	assert.Equal(t, "still here", current(t, store).Messages[1].Content)
}

func TestSelectTierRejectsUnknown(t *testing.T) {
	ctrl, _ := setup(t, newFakeStreamer(script{}))
	assert.ErrorIs(t, ctrl.SelectTier("ultra"), tier.ErrUnknownTier)
	assert.Equal(t, tier.Fast, ctrl.Tier())
	assert.Equal(t, "Nova Flash", ctrl.TierSpec().Label)
}

func TestSessionCommands(t *testing.T) {
	ctrl, store := setup(t, newFakeStreamer(script{}))
	first := store.CurrentID()

	second := ctrl.NewChat()
	assert.Equal(t, second, store.CurrentID())
	assert.Equal(t, second, store.List()[0].ID)

	require.NoError(t, ctrl.SelectSession(first))
	assert.Equal(t, first, store.CurrentID())
	assert.ErrorIs(t, ctrl.SelectSession("missing"), chatservice.ErrSessionNotFound)
	assert.Equal(t, first, store.CurrentID())

	require.NoError(t, ctrl.DeleteSession(first))
	assert.Equal(t, second, store.CurrentID())

	require.NoError(t, ctrl.DeleteSession(second))
	assert.Equal(t, 1, store.Len())
	replacement := current(t, store)
	assert.NotEqual(t, second, replacement.ID)
	assert.Equal(t, chat.DefaultTitle, replacement.Title)

	assert.ErrorIs(t, ctrl.DeleteSession("missing"), chatservice.ErrSessionNotFound)
}

func TestDeletingStreamingSessionDropsLaterCommits(t *testing.T) {
	gate := make(chan struct{})
	streamer := newFakeStreamer(script{fragments: []string{"late"}, gate: gate})
	ctrl, store := setup(t, streamer)
	doomed := current(t, store).ID

	done := make(chan conversation.Result)
	go func() {
		res, _ := ctrl.Send(context.Background(), "hello")
		done <- res
	}()
	<-streamer.opened

	require.NoError(t, ctrl.DeleteSession(doomed))
	close(gate)
	res := <-done

	assert.Equal(t, conversation.StateFinalized, res.State)
	_, ok := store.GetSession(doomed)
	assert.False(t, ok)
	assert.Empty(t, current(t, store).Messages)
	assert.False(t, ctrl.Busy(doomed))
}

func TestTurnsOnDifferentSessionsAreIndependent(t *testing.T) {
	gate := make(chan struct{})
	streamer := newFakeStreamer(
		script{fragments: []string{"first"}, gate: gate},
		script{fragments: []string{"second"}},
	)
	ctrl, store := setup(t, streamer)
	a := store.CurrentID()

	turnA, ok := ctrl.Begin("to a")
	require.True(t, ok)
	doneA := make(chan conversation.Result)
	go func() { doneA <- turnA.Run(context.Background()) }()
	<-streamer.opened

	b := ctrl.NewChat()
	res, ok := ctrl.Send(context.Background(), "to b")
	require.True(t, ok)
	assert.Equal(t, b, res.SessionID)

	close(gate)
	<-doneA

	sa, _ := store.GetSession(a)
	sb, _ := store.GetSession(b)
	assert.Equal(t, "first", sa.Messages[1].Content)
	assert.Equal(t, "second", sb.Messages[1].Content)
}

type panicStreamer struct{}

func (panicStreamer) OpenStream(context.Context, string, tier.Tier) (ai.Stream, error) {
	panic("adapter bug")
}

func TestAdapterPanicIsContained(t *testing.T) {
	ctrl, store := setup(t, panicStreamer{})

	res, ok := ctrl.Send(context.Background(), "hello")
	require.True(t, ok)
	assert.Equal(t, conversation.StateFailed, res.State)

	session := current(t, store)
	assert.Equal(t, conversation.ErrorReply, session.Messages[1].Content)
	assert.False(t, ctrl.Busy(session.ID))
}
