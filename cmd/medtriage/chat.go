package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/medtriage/config"
	"github.com/mohammad-safakhou/medtriage/internal/dialogue"
	"github.com/mohammad-safakhou/medtriage/internal/llm"
	"github.com/mohammad-safakhou/medtriage/internal/summary"
)

// Conversation is the part of the orchestrator the terminal loop drives.
type Conversation interface {
	Respond(ctx context.Context, req dialogue.TurnRequest) (dialogue.Reply, error)
	Close(ctx context.Context, sessionID, targetLanguage string) (summary.CaseRecord, error)
}

func chatCMD(cfgPath *string) *cobra.Command {
	var language string
	var cmd = &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return chatLoop(cmd.Context(), a.orch, cmd.InOrStdin(), cmd.OutOrStdout(), uuid.NewString(), language)
		},
	}
	cmd.Flags().StringVar(&language, "lang", "English", "reply language")
	return cmd
}

// chatLoop reads one message per line. "summary" closes the session and
// prints the case record; an emergency reply ends the loop.
func chatLoop(ctx context.Context, conv Conversation, in io.Reader, out io.Writer, sessionID, language string) error {
	fmt.Fprintf(out, "session %s. Describe your symptoms; type 'Summary' to finish.\n", sessionID)
	var history []llm.Message
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		msg := strings.TrimSpace(scanner.Text())
		if msg == "" {
			continue
		}
		if strings.EqualFold(msg, "summary") {
			rec, err := conv.Close(ctx, sessionID, language)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		}
		reply, err := conv.Respond(ctx, dialogue.TurnRequest{
			SessionID:      sessionID,
			Message:        msg,
			History:        history,
			TargetLanguage: language,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(out, reply.Answer)
		for _, src := range reply.Sources {
			fmt.Fprintf(out, "  [Page %s] %s\n", src.Page, src.Type)
		}
		if reply.StructuredRecord != nil {
			return nil
		}
		history = append(history,
			llm.Message{Role: "user", Content: msg},
			llm.Message{Role: "assistant", Content: reply.Answer},
		)
	}
}
