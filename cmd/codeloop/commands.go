package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/martinemde/codeloop/agentloop"
	"github.com/martinemde/codeloop/store"
	"github.com/martinemde/codeloop/unifiedllm"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Reads messages from stdin, one per line. Ctrl-C stops the running turn
only. Type /status to show the multi-file task and background summary,
/reset to abandon the task, and /exit (or end input) to quit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		conv, err := a.conversation(ctx, "chat")
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "conversation %s (%s)\n", conv.ID, conv.Environment)

		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for {
			fmt.Fprint(os.Stderr, "> ")
			if !scanner.Scan() {
				break
			}
			line := strings.TrimSpace(scanner.Text())
			switch line {
			case "":
				continue
			case "/exit", "/quit":
				return nil
			case "/status", "/task":
				summary, ok := a.engine.SummaryState(conv.ID)
				writeStatus(os.Stdout, a.engine.Task(conv.ID), summary, ok)
				continue
			case "/reset":
				a.engine.ResetTask(conv.ID)
				continue
			}
			if err := a.send(ctx, conv, line); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
		}
		return scanner.Err()
	},
}

// writeStatus prints the multi-file task and the latest summarization.
func writeStatus(out io.Writer, task agentloop.TaskSnapshot, summary agentloop.SummaryState, summarized bool) {
	if task.Active {
		fmt.Fprintf(out, "task: %s\ncompleted: %s\nremaining: %s\n", task.Description,
			strings.Join(task.Completed, ", "), strings.Join(task.Remaining, ", "))
	} else {
		fmt.Fprintln(out, "task: none")
	}
	switch {
	case !summarized:
		fmt.Fprintln(out, "summary: never run")
	case summary.Err != nil:
		fmt.Fprintf(out, "summary: %s (%v)\n", summary.Status, summary.Err)
	default:
		fmt.Fprintf(out, "summary: %s\n", summary.Status)
	}
}

var runCmd = &cobra.Command{
	Use:   "run [message]",
	Short: "Send one message and exit when the turn ends",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		text := strings.Join(args, " ")
		conv, err := a.conversation(cmd.Context(), titleFrom(text))
		if err != nil {
			return err
		}
		if err := a.send(cmd.Context(), conv, text); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "conversation %s\n", conv.ID)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		convs, err := st.List(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tENV\tMESSAGES\tLAST TOUCHED")
		for _, c := range convs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", c.ID, c.Title, c.Environment, c.MessageCount, c.LastTouched.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models [provider]",
	Short: "List known models",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider := ""
		if len(args) == 1 {
			provider = args[0]
		}
		return writeModels(os.Stdout, provider)
	},
}

func writeModels(out io.Writer, provider string) error {
	models := unifiedllm.ListModels(provider)
	if len(models) == 0 {
		return fmt.Errorf("no models known for provider %q", provider)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROVIDER\tCONTEXT\tMAX OUTPUT")
	for _, m := range models {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", m.ID, m.Provider, m.ContextWindow, unifiedllm.DefaultMaxOutput(m.ID))
	}
	return w.Flush()
}

var rmCmd = &cobra.Command{
	Use:   "rm [id...]",
	Short: "Delete stored conversations",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		var errs []error
		for _, id := range args {
			if err := st.Remove(cmd.Context(), id); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
			}
		}
		return errors.Join(errs...)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [id]",
	Short: "Print a conversation as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		return exportConversation(cmd.Context(), st, args[0], cmd.OutOrStdout())
	},
}

func exportConversation(ctx context.Context, st store.Store, id string, w io.Writer) error {
	conv, err := st.Get(ctx, id)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(conv.Snapshot()); err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	return enc.Close()
}
