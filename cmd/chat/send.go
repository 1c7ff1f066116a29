package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Rrens/langly/internal/chat"
	"github.com/Rrens/langly/internal/chatapi"
	"github.com/Rrens/langly/internal/domain"
	"github.com/Rrens/langly/internal/protocol"
	"github.com/Rrens/langly/internal/transport"
)

var (
	sendSession int64
	sendNew     bool
)

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send one message and stream the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := startEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closeEngine(engine)

		if err := selectSession(cmd.Context(), engine); err != nil {
			return err
		}
		return runTurn(cmd.Context(), engine, strings.Join(args, " "))
	},
}

var interactiveCmd = &cobra.Command{
	Use:     "interactive",
	Aliases: []string{"i"},
	Short:   "Chat interactively (/new, /switch <id>, /sessions, /quit)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		engine, err := startEngine(ctx)
		if err != nil {
			return err
		}
		defer closeEngine(engine)

		if err := selectSession(ctx, engine); err != nil {
			return err
		}

		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print(userStyle.Render("> "))
			if !scanner.Scan() {
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())

			switch {
			case line == "":
				continue
			case line == "/quit" || line == "/exit":
				return nil
			case line == "/new":
				s, err := engine.CreateSession(ctx, "")
				if err != nil {
					printError(err)
					continue
				}
				fmt.Println(successStyle.Render(fmt.Sprintf("Started session #%d", s.ID)))
			case line == "/sessions":
				for _, s := range engine.Sessions() {
					fmt.Println(idStyle.Render(fmt.Sprintf("#%d", s.ID)) + " " + titleStyle.Render(s.Title))
				}
			case strings.HasPrefix(line, "/switch"):
				id, err := parseSessionID(strings.TrimSpace(strings.TrimPrefix(line, "/switch")))
				if err != nil {
					printError(err)
					continue
				}
				if err := engine.SwitchSession(ctx, id); err != nil {
					printError(err)
					continue
				}
				for _, m := range engine.ActiveMessages() {
					printMessage(m)
				}
			default:
				if err := runTurn(ctx, engine, line); err != nil {
					var authErr *chat.AuthError
					if errors.As(err, &authErr) {
						return err
					}
					if ctx.Err() != nil {
						return nil
					}
					if !errors.Is(err, errReported) {
						printError(err)
					}
				}
			}
		}
	},
}

// startEngine wires the REST client, socket and persistence into an engine
func startEngine(ctx context.Context) (*chat.Engine, error) {
	cfg := current.cfg.Client
	if current.creds.Token() == "" {
		return nil, errors.New("not logged in; run `login` first")
	}

	socketURL := cfg.SocketURL
	if socketURL == "" {
		var err error
		if socketURL, err = chatapi.SocketURL(cfg.BaseURL); err != nil {
			return nil, err
		}
	}

	ws := transport.NewWebSocket(socketURL, current.creds, transport.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		Reconnect:      true,
		ReconnectMin:   cfg.ReconnectMin,
		ReconnectMax:   cfg.ReconnectMax,
		Logger:         current.log,
	})
	gateway := chat.NewRetryingGateway(current.client, cfg.PersistRetries, cfg.PersistBackoff, current.log)

	engine := chat.New(current.client, gateway, ws, current.creds, chat.Options{
		IdleTimeout: cfg.StreamIdleTimeout,
		Logger:      current.log,
		OnUpdate:    printUpdate,
	})
	if err := engine.Start(ctx); err != nil {
		closeEngine(engine)
		return nil, err
	}
	return engine, nil
}

func closeEngine(engine *chat.Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := engine.Close(ctx); err != nil {
		printError(err)
	}
}

func selectSession(ctx context.Context, engine *chat.Engine) error {
	switch {
	case sendNew:
		_, err := engine.CreateSession(ctx, "")
		return err
	case sendSession > 0:
		return engine.SwitchSession(ctx, sendSession)
	}
	return nil
}

// errReported marks a turn failure already shown by printUpdate
var errReported = errors.New("turn failed")

// runTurn sends text and blocks until the answer is final
func runTurn(ctx context.Context, engine *chat.Engine, text string) error {
	info, err := engine.SendMessage(ctx, text)
	if err != nil && info.TurnID == "" {
		return err
	}
	if err == nil {
		_, err = info.Wait(ctx)
	}
	if err != nil && ctx.Err() == nil {
		var authErr *chat.AuthError
		if errors.As(err, &authErr) {
			return err
		}
		return fmt.Errorf("%w: %v", errReported, err)
	}
	return err
}

// printUpdate renders streamed changes as they arrive
func printUpdate(u chat.Update) {
	m := u.Message
	switch u.Event {
	case protocol.EventThinking:
		if n := len(m.ThinkingSteps); n > 0 {
			fmt.Println(thinkingStyle.Render("  · " + m.ThinkingSteps[n-1].Text))
		}
	case protocol.EventToolStart:
		if n := len(m.ToolCalls); n > 0 {
			call := m.ToolCalls[n-1]
			fmt.Println(toolStyle.Render(fmt.Sprintf("  ⚙ %s %s", call.Tool, call.Input)))
		}
	case protocol.EventToolResult:
		if call, ok := lastFinishedCall(m.ToolCalls); ok {
			fmt.Println(toolStyle.Render("  ↳ " + truncate(*call.Output, 200)))
		}
	case protocol.EventDone:
		fmt.Println(assistantStyle.Render("langly") + " " + m.Content)
	case protocol.EventError:
		fmt.Println(errorStyle.Render(m.Content))
	}
}

func lastFinishedCall(calls []domain.ToolCall) (domain.ToolCall, bool) {
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].HasOutput() {
			return calls[i], true
		}
	}
	return domain.ToolCall{}, false
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func printError(err error) {
	fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
}

func init() {
	for _, c := range []*cobra.Command{sendCmd, interactiveCmd} {
		c.Flags().Int64VarP(&sendSession, "session", "s", 0, "Session to use (default: newest)")
		c.Flags().BoolVar(&sendNew, "new", false, "Start a new session")
	}
	rootCmd.AddCommand(sendCmd, interactiveCmd)
}
