package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campus-live/auth"
	"campus-live/contract"
	"campus-live/domain"
	"campus-live/runtime"
	"campus-live/transport"

	"github.com/Netflix/go-env"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
)

// Exit codes for the terminal client.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

// run wires the whole messaging core together: credential supplier,
// transports, multiplexer, typing tracker, notifier, and the broker that
// arbitrates the shared connection. The terminal acts as one subscriber.
func run() (int, error) {
	// 1. Load configuration from environment variables.
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Credential supplier and transports.
	supplier := auth.NewTokenSupplier(config.Token)
	primary := transport.NewWebSocketDialer(log, config.HubURL, config.HandshakeTimeout, config.EventBufferSize)
	fallback := transport.NewPollingDialer(log, config.FallbackURL, config.HandshakeTimeout, config.EventBufferSize)
	historyClient := transport.NewHistoryClient(config.HistoryURL, supplier, config.HistoryTimeout)

	// 3. Shared components. The history client doubles as the fallback
	// write path for sends while disconnected.
	mux := runtime.NewMultiplexer(log, nil, historyClient, historyClient, config.MaxMessageLength)
	typing := runtime.NewTracker(log, nil, config.TypingTTL, config.TypingDebounce)
	notifier := runtime.NewNotifier(log, config.NotificationLimit)

	factory := func(onState func(domain.StateChange)) contract.IManager {
		manager := runtime.NewManager(log, supplier, primary, fallback,
			config.BackoffInitial, config.BackoffMax)
		manager.AddSinks(mux, typing, notifier)
		manager.WithResubscribe(mux.Tracked)
		manager.OnState(onState)
		return manager
	}
	identity := func() (string, string, error) {
		id, err := supplier.LocalIdentity()
		return id.UserID, id.DisplayName, err
	}

	broker := runtime.NewBroker(log, supplier, factory, identity, mux, typing, notifier)
	defer broker.Close()

	// 4. Context tied to termination signals (Ctrl+C).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Mount as one subscriber: connection indicator on stderr.
	unsubscribe, err := broker.Subscribe(func(change domain.StateChange) {
		switch change.State {
		case domain.StateConnected:
			color.Green.Printf("-- %s (%s)\n", change.State, change.Transport)
		case domain.StateReconnecting, domain.StateConnecting:
			color.Yellow.Printf("-- %s\n", change.State)
		case domain.StateFailed:
			color.Red.Printf("-- %s: %v\n", change.State, change.Err)
		default:
			color.Gray.Printf("-- %s\n", change.State)
		}
	})
	if err != nil {
		return exitRuntime, err
	}
	defer unsubscribe()

	cancelNotifications := notifier.Subscribe(func(evt domain.NotificationEvent) {
		color.Magenta.Printf("** %s: %s\n", evt.Kind, string(evt.Payload))
	})
	defer cancelNotifications()

	conversation := domain.ConversationID(config.Conversation)
	cancelMessages := mux.OnMessage(func(msg domain.Message) {
		if msg.Conversation != conversation {
			return
		}
		fmt.Printf("[%s] %s: %s\n", msg.SentAt.Format(time.TimeOnly), msg.SenderName, msg.Body)
	})
	defer cancelMessages()

	// 6. Seed the view with history before live events arrive.
	history, err := mux.LoadHistory(ctx, conversation)
	if err != nil {
		log.Warn("History unavailable, starting from live stream only", "error", err)
	} else {
		renderHistory(history)
	}

	// 7. Input loop: every line is one message; typing pings are
	// debounced by the tracker.
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping client...")
			return exitOK, nil
		case line, ok := <-lines:
			if !ok {
				return exitOK, nil
			}
			if line == "" {
				continue
			}
			_ = typing.NotifyTyping(ctx, conversation)

			sendCtx, cancel := context.WithTimeout(ctx, config.SendTimeout)
			receipt, err := mux.Send(sendCtx, conversation, line)
			cancel()
			if err != nil {
				// Hand the unsent input back rather than discarding it.
				color.Red.Printf("!! send failed (%v), unsent: %s\n", err, line)
				continue
			}
			if receipt.Path == domain.SentViaFallback {
				color.Yellow.Println("-- delivered via fallback")
			}
		}
	}
}

// renderHistory prints the seeded buffer as a table, most recent last.
func renderHistory(messages []domain.Message) {
	if len(messages) == 0 {
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Time", "Sender", "Message"})
	table.SetBorder(false)
	for _, msg := range messages {
		table.Append([]string{
			msg.SentAt.Format(time.TimeOnly),
			msg.SenderName,
			msg.Body,
		})
	}
	table.Render()
}
