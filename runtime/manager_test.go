package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"campus-live/auth"
	"campus-live/domain"
	apperrors "campus-live/errors"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func nextState(t *testing.T, states <-chan domain.State) domain.State {
	t.Helper()
	select {
	case state := <-states:
		return state
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a state transition")
		return ""
	}
}

func nextChange(t *testing.T, changes <-chan domain.StateChange) domain.StateChange {
	t.Helper()
	select {
	case change := <-changes:
		return change
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a state transition")
		return domain.StateChange{}
	}
}

func Test_Manager_ReconnectsAfterDrop(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	// Given a manager whose primary transport always dials successfully
	primary := &fakeDialer{kind: domain.TransportWebSocket}
	fallback := &fakeDialer{kind: domain.TransportPolling, err: fmt.Errorf("fallback unavailable")}
	supplier := auth.NewTokenSupplier("token-123")
	manager := NewManager(log, supplier, primary, fallback, time.Millisecond, 10*time.Millisecond)

	states := make(chan domain.State, 16)
	manager.OnState(func(change domain.StateChange) { states <- change.State })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- manager.Run(ctx) }()

	// When the first session drops and the redial succeeds
	req.Equal(domain.StateConnecting, nextState(t, states))
	req.Equal(domain.StateConnected, nextState(t, states))
	primary.transportAt(0).errs <- fmt.Errorf("connection reset")

	// Then the manager walks Reconnecting back to Connected
	req.Equal(domain.StateReconnecting, nextState(t, states))
	req.Equal(domain.StateConnected, nextState(t, states))

	cancel()
	req.Equal(domain.StateClosed, nextState(t, states))
	req.NoError(<-runErr)

	// And inbound channels were re-attached exactly once per session
	req.Equal(2, primary.dialCount())
	req.Equal(1, primary.transportAt(0).subscribeCount())
	req.Equal(1, primary.transportAt(1).subscribeCount())
}

func Test_Manager_FallsBackWhenPrimaryHandshakeFails(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	// Given a primary transport that refuses the handshake
	primary := &fakeDialer{kind: domain.TransportWebSocket, err: fmt.Errorf("upgrade refused")}
	fallback := &fakeDialer{kind: domain.TransportPolling}
	supplier := auth.NewTokenSupplier("token-123")
	manager := NewManager(log, supplier, primary, fallback, time.Millisecond, 10*time.Millisecond)

	changes := make(chan domain.StateChange, 16)
	manager.OnState(func(change domain.StateChange) { changes <- change })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- manager.Run(ctx) }()

	// When the connection comes up
	connecting := nextChange(t, changes)
	connected := nextChange(t, changes)

	// Then the session runs over the fallback transport
	req.Equal(domain.StateConnecting, connecting.State)
	req.Equal(domain.StateConnected, connected.State)
	req.Equal(domain.TransportPolling, connected.Transport)
	req.Equal(1, primary.dialCount())
	req.Equal(1, fallback.dialCount())

	cancel()
	req.NoError(<-runErr)
}

func Test_Manager_FailsTerminallyWhenBothTransportsRefuse(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	// Given both transports refusing the initial handshake
	primary := &fakeDialer{kind: domain.TransportWebSocket, err: fmt.Errorf("upgrade refused")}
	fallback := &fakeDialer{kind: domain.TransportPolling, err: fmt.Errorf("stream refused")}
	supplier := auth.NewTokenSupplier("token-123")
	manager := NewManager(log, supplier, primary, fallback, time.Millisecond, 10*time.Millisecond)

	states := make(chan domain.State, 16)
	manager.OnState(func(change domain.StateChange) { states <- change.State })

	// When Run attempts the first connection
	err := manager.Run(context.Background())

	// Then the failure is terminal, with no retry loop
	req.ErrorIs(err, apperrors.ErrTransportsExhausted)
	req.Equal(domain.StateConnecting, nextState(t, states))
	req.Equal(domain.StateFailed, nextState(t, states))
	req.Equal(domain.StateFailed, manager.State())
	req.Equal(1, primary.dialCount())
	req.Equal(1, fallback.dialCount())
}

func Test_Manager_RunWithoutCredentialFails(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	// Given no credential at all
	supplier := auth.NewTokenSupplier("")
	manager := NewManager(log, supplier,
		&fakeDialer{kind: domain.TransportWebSocket},
		&fakeDialer{kind: domain.TransportPolling},
		time.Millisecond, 10*time.Millisecond)

	// When / Then: Run refuses to dial anything
	req.ErrorIs(manager.Run(context.Background()), apperrors.ErrNoCredential)
}

func Test_Manager_SendFailsFastWhileDisconnected(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	// Given a manager that never connected
	supplier := auth.NewTokenSupplier("token-123")
	manager := NewManager(log, supplier,
		&fakeDialer{kind: domain.TransportWebSocket},
		&fakeDialer{kind: domain.TransportPolling},
		time.Millisecond, 10*time.Millisecond)

	// When sending while disconnected
	err := manager.SendMessage(context.Background(), "course-101", "hello")

	// Then the send fails immediately instead of queueing
	req.True(errors.Is(err, apperrors.ErrNotConnected))
	req.ErrorIs(manager.SendTyping(context.Background(), "course-101", "alice"), apperrors.ErrNotConnected)
}
