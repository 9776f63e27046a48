// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCRM/services/assistant/display"
	"github.com/AleutianAI/AleutianCRM/services/assistant/engine"
	"github.com/AleutianAI/AleutianCRM/services/assistant/session"
)

var (
	styleGray      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleBoldCyan  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	styleBoldGreen = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	styleError     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	styleCard      = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	var contextHint string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		Long: `Runs one conversation in-process, without the HTTP server.

Type a message and press enter. /new starts a fresh conversation and
/quit leaves.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := opts.load()
			if err != nil {
				return err
			}
			// Keep the log out of the conversation.
			logOut := io.Discard
			if cfg.Log.Level == "debug" {
				logOut = os.Stderr
			}
			a, err := newApp(ctx, cfg, logOut)
			if err != nil {
				return err
			}
			defer a.Close()

			interactive := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
			return chatLoop(ctx, a.sessions, os.Stdin, cmd.OutOrStdout(), interactive, contextHint)
		},
	}
	cmd.Flags().StringVar(&contextHint, "context", "", "what the user is looking at, sent with every message")
	return cmd
}

// chatLoop reads one message per line and prints the assistant's messages
// for each turn once it has finished.
func chatLoop(ctx context.Context, sessions *session.Manager, in io.Reader, out io.Writer, interactive bool, hint string) error {
	s, err := sessions.Create()
	if err != nil {
		return err
	}
	if interactive {
		fmt.Fprintln(out, styleGray.Render("New conversation. /new to restart, /quit to leave."))
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		if interactive {
			fmt.Fprint(out, styleBoldCyan.Render("you")+" › ")
		}
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/new":
			_ = sessions.Close(s.ID)
			if s, err = sessions.Create(); err != nil {
				return err
			}
			fmt.Fprintln(out, styleGray.Render("New conversation."))
			continue
		}

		ticket, err := s.Engine.Submit(line, engine.WithContextHint(hint))
		if err != nil {
			if errors.Is(err, engine.ErrSessionAborted) {
				fmt.Fprintln(out, styleError.Render("This conversation hit an internal error. Type /new to start over."))
				continue
			}
			return err
		}
		if interactive {
			fmt.Fprintln(out, styleGray.Render("…"))
		}
		if _, err := ticket.Wait(ctx); err != nil && ctx.Err() != nil {
			return nil
		}
		for _, msg := range s.Projector.Messages() {
			if msg.TurnID == ticket.ID && msg.Sender == display.SenderAssistant {
				fmt.Fprintln(out, renderMessage(msg))
			}
		}
	}
}

// renderMessage formats one assistant message for the terminal.
func renderMessage(msg display.Message) string {
	label := styleBoldGreen.Render("assistant")
	switch msg.Kind {
	case display.KindDraft:
		if d, ok := msg.Payload.(display.Draft); ok {
			body := fmt.Sprintf("To: %s\nSubject: %s\n\n%s", d.Recipient, d.Subject, d.Body)
			return label + " drafted an email:\n" + styleCard.Render(body)
		}
	case display.KindSearchResults:
		if r, ok := msg.Payload.(display.SearchResults); ok {
			return label + " " + renderSearch(r)
		}
	case display.KindLoading:
		return styleGray.Render("…")
	}
	text := fmt.Sprint(msg.Payload)
	if msg.Error {
		return label + " " + styleError.Render(text)
	}
	return label + " › " + text
}

func renderSearch(r display.SearchResults) string {
	var b strings.Builder
	fmt.Fprintf(&b, "found %d document(s) for %q:", len(r.Hits), r.Query)
	for i, hit := range r.Hits {
		fmt.Fprintf(&b, "\n  %d. %s %s", i+1, hit.Title, styleGray.Render("("+hit.DocumentID+")"))
		if hit.Snippet != "" {
			fmt.Fprintf(&b, "\n     %s", hit.Snippet)
		}
	}
	return b.String()
}
