package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"campus-live/domain"
	"campus-live/domain/event"
	apperrors "campus-live/errors"

	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

const testConversation = domain.ConversationID("course-101")

func message(body string, sentAt time.Time) domain.Message {
	return domain.Message{
		ID:           uuid.New(),
		Conversation: testConversation,
		SenderID:     "user-7",
		SenderName:   "Alice",
		Body:         body,
		SentAt:       sentAt,
	}
}

func Test_Multiplexer_HistoryPrecedesLiveMessages(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	now := time.Now()

	// Given two stored messages and a multiplexer backed by them
	first := message("first", now.Add(-2*time.Minute))
	second := message("second", now.Add(-time.Minute))
	history := &fakeHistory{byID: map[domain.ConversationID][]domain.Message{
		testConversation: {first, second},
	}}
	mux := NewMultiplexer(log, &fakeManager{}, history, nil, 4000)

	// When history is loaded and two live messages arrive afterwards
	seeded, err := mux.LoadHistory(context.Background(), testConversation)
	req.NoError(err)
	req.Len(seeded, 2)

	third := message("third", now)
	fourth := message("fourth", now.Add(time.Second))
	req.NoError(mux.Consume(context.Background(), event.MessageReceived{Message: third}))
	req.NoError(mux.Consume(context.Background(), event.MessageReceived{Message: fourth}))

	// Then the buffer reads oldest first, history before live
	bodies := lo.Map(mux.Messages(testConversation), func(msg domain.Message, _ int) string {
		return msg.Body
	})
	req.Equal([]string{"first", "second", "third", "fourth"}, bodies)
}

func Test_Multiplexer_LiveMessagesSurviveLateHistoryLoad(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	now := time.Now()

	// Given a live message that arrives before any history fetch
	stored := message("stored", now.Add(-time.Minute))
	history := &fakeHistory{byID: map[domain.ConversationID][]domain.Message{
		testConversation: {stored},
	}}
	mux := NewMultiplexer(log, &fakeManager{}, history, nil, 4000)

	live := message("live", now)
	req.NoError(mux.Consume(context.Background(), event.MessageReceived{Message: live}))

	// When history is loaded afterwards
	snapshot, err := mux.LoadHistory(context.Background(), testConversation)
	req.NoError(err)

	// Then history is placed before the buffered live message
	req.Len(snapshot, 2)
	req.Equal("stored", snapshot[0].Body)
	req.Equal("live", snapshot[1].Body)
}

func Test_Multiplexer_HistoryLoadsAtMostOnce(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	// Given a seeded conversation
	history := &fakeHistory{byID: map[domain.ConversationID][]domain.Message{
		testConversation: {message("stored", time.Now())},
	}}
	mux := NewMultiplexer(log, &fakeManager{}, history, nil, 4000)
	_, err := mux.LoadHistory(context.Background(), testConversation)
	req.NoError(err)

	// When history is requested again
	snapshot, err := mux.LoadHistory(context.Background(), testConversation)

	// Then the stored messages are not fetched or prepended twice
	req.NoError(err)
	req.Len(snapshot, 1)
	req.Equal(1, history.fetches)
}

func Test_Multiplexer_DropsDuplicateLiveMessage(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	// Given a message already delivered once
	mux := NewMultiplexer(log, &fakeManager{}, &fakeHistory{}, nil, 4000)
	msg := message("hello", time.Now())
	req.NoError(mux.Consume(context.Background(), event.MessageReceived{Message: msg}))

	// When the hub redelivers the same message after a reconnect
	redelivered := msg
	redelivered.ID = uuid.New()
	req.NoError(mux.Consume(context.Background(), event.MessageReceived{Message: redelivered}))

	// Then the buffer holds it once
	req.Len(mux.Messages(testConversation), 1)
}

func Test_Multiplexer_NotifiesListenersOnLiveAppend(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	// Given a registered message listener
	mux := NewMultiplexer(log, &fakeManager{}, &fakeHistory{}, nil, 4000)
	var received []string
	cancel := mux.OnMessage(func(msg domain.Message) {
		received = append(received, msg.Body)
	})

	// When a live message arrives, and another after cancelling
	req.NoError(mux.Consume(context.Background(), event.MessageReceived{Message: message("before", time.Now())}))
	cancel()
	req.NoError(mux.Consume(context.Background(), event.MessageReceived{Message: message("after", time.Now().Add(time.Second))}))

	// Then only the message delivered while registered was pushed
	req.Equal([]string{"before"}, received)
}

func Test_Multiplexer_SendPrefersLivePath(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	// Given a connected manager and a configured fallback poster
	manager := &fakeManager{}
	poster := &fakePoster{}
	mux := NewMultiplexer(log, manager, &fakeHistory{}, poster, 4000)

	// When sending
	receipt, err := mux.Send(context.Background(), testConversation, "hello")

	// Then the message goes out live, never through the poster
	req.NoError(err)
	req.Equal(domain.SentLive, receipt.Path)
	req.Len(manager.messages, 1)
	req.Empty(poster.posts)
}

func Test_Multiplexer_SendFallsBackWhileDisconnected(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	// Given a disconnected manager and a configured fallback poster
	manager := &fakeManager{sendErr: apperrors.ErrNotConnected}
	poster := &fakePoster{}
	mux := NewMultiplexer(log, manager, &fakeHistory{}, poster, 4000)

	// When sending
	receipt, err := mux.Send(context.Background(), testConversation, "hello")

	// Then the message goes out as a point-in-time request
	req.NoError(err)
	req.Equal(domain.SentViaFallback, receipt.Path)
	req.Len(poster.posts, 1)
	req.Equal("hello", poster.posts[0].body)
}

func Test_Multiplexer_SendWithoutFallbackFailsFast(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	// Given a disconnected manager and no fallback poster
	manager := &fakeManager{sendErr: apperrors.ErrNotConnected}
	mux := NewMultiplexer(log, manager, &fakeHistory{}, nil, 4000)

	// When sending
	_, err := mux.Send(context.Background(), testConversation, "hello")

	// Then the caller gets the error and the buffer stays untouched
	req.ErrorIs(err, apperrors.ErrNotConnected)
	req.Empty(mux.Messages(testConversation))
}

func Test_Multiplexer_SendPropagatesNonConnectionErrors(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	// Given a manager whose live send fails for another reason
	manager := &fakeManager{sendErr: fmt.Errorf("write deadline exceeded")}
	poster := &fakePoster{}
	mux := NewMultiplexer(log, manager, &fakeHistory{}, poster, 4000)

	// When sending
	_, err := mux.Send(context.Background(), testConversation, "hello")

	// Then the error surfaces without consulting the fallback
	req.Error(err)
	req.Empty(poster.posts)
}

func Test_Multiplexer_SendRejectsInvalidBody(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	manager := &fakeManager{}
	mux := NewMultiplexer(log, manager, &fakeHistory{}, nil, 10)

	// When / Then: an empty body is rejected before any transport work
	_, err := mux.Send(context.Background(), testConversation, "")
	req.ErrorIs(err, apperrors.ErrEmptyMessage)

	// And an oversized body as well
	_, err = mux.Send(context.Background(), testConversation, "this body is longer than ten characters")
	req.Error(err)
	req.Empty(manager.messages)
}
