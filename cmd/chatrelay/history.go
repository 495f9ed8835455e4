package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/meikuraledutech/chatrelay"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newHistoryCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "history <sessionId>",
		Short: "Print the stored turns of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openPersistentStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			session, err := store.Load(cmd.Context(), args[0])
			if errors.Is(err, chatrelay.ErrSessionNotFound) {
				return fmt.Errorf("session %q not found", args[0])
			}
			if err != nil {
				return err
			}
			return renderHistory(cmd.OutOrStdout(), session, format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json or yaml")
	return cmd
}

// lister is implemented by stores that can enumerate their sessions.
type lister interface {
	IDs(ctx context.Context) ([]string, error)
}

func newSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List stored session IDs, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openPersistentStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			l, ok := store.(lister)
			if !ok {
				return fmt.Errorf("store does not support listing sessions")
			}
			ids, err := l.IDs(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func openPersistentStore(cmd *cobra.Command) (chatrelay.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.Store == chatrelay.BackendMemory {
		return nil, fmt.Errorf("the memory store keeps nothing between runs; use --store postgres or sqlite")
	}
	return openStore(cmd.Context(), cfg)
}

var (
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	headerStyle    = lipgloss.NewStyle().Bold(true).Underline(true)
)

func renderHistory(w io.Writer, session *chatrelay.Session, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(session)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(session); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		fmt.Fprintln(w, headerStyle.Render("Session "+session.ID))
		if len(session.Turns) == 0 {
			fmt.Fprintln(w, faintStyle.Render("(no turns)"))
			return nil
		}
		for _, turn := range session.Turns {
			label := string(turn.Role)
			switch turn.Role {
			case chatrelay.RoleUser:
				label = userStyle.Render("user")
			case chatrelay.RoleAssistant:
				label = assistantStyle.Render("assistant")
			}
			ts := ""
			if !turn.Timestamp.IsZero() {
				ts = " " + faintStyle.Render(turn.Timestamp.Local().Format("2006-01-02 15:04:05"))
			}
			fmt.Fprintf(w, "\n%s%s\n%s\n", label, ts, turn.Content)
		}
		return nil
	}
	return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
}
