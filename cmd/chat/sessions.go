package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Rrens/langly/internal/domain"
)

var loginPassword string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Exchange the dashboard password for a token",
	RunE: func(cmd *cobra.Command, args []string) error {
		password := loginPassword
		if password == "" {
			password = os.Getenv("DASHBOARD_PASSWORD")
		}
		if password == "" {
			fmt.Fprint(os.Stderr, "Password: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read password: %w", err)
			}
			password = strings.TrimSpace(line)
		}

		tok, err := current.client.Login(cmd.Context(), password)
		if err != nil {
			return err
		}
		fmt.Println(successStyle.Render(fmt.Sprintf("Logged in. Token valid for %s.", time.Duration(tok.ExpiresIn)*time.Second)))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored token",
	RunE: func(cmd *cobra.Command, args []string) error {
		current.creds.Clear()
		fmt.Println(successStyle.Render("Logged out."))
		return nil
	},
}

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"ls"},
	Short:   "List chat sessions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := current.client.ListSessions(cmd.Context())
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println(dateStyle.Render("No sessions yet. Start one with `send`."))
			return nil
		}

		fmt.Println(headerStyle.Render(fmt.Sprintf("%d sessions", len(sessions))))
		w := tabwriter.NewWriter(lipgloss.DefaultRenderer().Output(), 0, 0, 3, ' ', 0)
		for _, s := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\n",
				idStyle.Render(fmt.Sprintf("#%d", s.ID)),
				titleStyle.Render(s.Title),
				dateStyle.Render(s.UpdatedAt.Local().Format("2006-01-02 15:04")),
			)
		}
		return w.Flush()
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Show the messages of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseSessionID(args[0])
		if err != nil {
			return err
		}
		messages, err := current.client.ListMessages(cmd.Context(), id)
		if err != nil {
			return err
		}
		for _, m := range messages {
			printMessage(m)
		}
		return nil
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename <session-id> <title>",
	Short: "Rename a session",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseSessionID(args[0])
		if err != nil {
			return err
		}
		title := strings.TrimSpace(strings.Join(args[1:], " "))
		if title == "" {
			return fmt.Errorf("title is required")
		}
		session, err := current.client.RenameSession(cmd.Context(), id, title)
		if err != nil {
			return err
		}
		fmt.Println(successStyle.Render("Renamed ") + idStyle.Render(fmt.Sprintf("#%d", session.ID)) + " " + titleStyle.Render(session.Title))
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseSessionID(args[0])
		if err != nil {
			return err
		}
		if err := current.client.DeleteSession(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Println(successStyle.Render(fmt.Sprintf("Deleted session #%d", id)))
		return nil
	},
}

func printMessage(m domain.Message) {
	if m.Role == domain.RoleUser {
		fmt.Println(userStyle.Render("you") + " " + m.Content)
		return
	}
	for _, step := range m.ThinkingSteps {
		fmt.Println(thinkingStyle.Render("  · " + step.Text))
	}
	for _, call := range m.ToolCalls {
		fmt.Println(toolStyle.Render(fmt.Sprintf("  ⚙ %s %s", call.Tool, call.Input)))
	}
	fmt.Println(assistantStyle.Render("langly") + " " + m.Content)
}

func init() {
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Dashboard password (default $DASHBOARD_PASSWORD or prompt)")

	rootCmd.AddCommand(loginCmd, logoutCmd, sessionsCmd, historyCmd, renameCmd, deleteCmd)
}
