// Command codeloop runs the agent loop against a project from the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/martinemde/codeloop/config"
)

var (
	cfgFile     string
	envTag      string
	convID      string
	activeFile  string
	pinnedFiles []string
	showEvents  bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "codeloop",
	Short: "A coding agent loop for text-only models",
	Long: `codeloop drives a language model through a structured action protocol:
it reads files, edits them through multi-file plans and runs tests until the
model answers with a final text response.

Conversations are stored in a local SQLite database and can be resumed with
--conversation.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		logger, err = cfg.Logging.NewLogger()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./"+config.DefaultFile+")")

	for _, cmd := range []*cobra.Command{chatCmd, runCmd} {
		cmd.Flags().StringVar(&convID, "conversation", "", "resume the conversation with this id")
		cmd.Flags().StringVar(&envTag, "env", "", "environment profile (detected from the project when empty)")
		cmd.Flags().StringVar(&activeFile, "active", "", "file shown to the model as the active file")
		cmd.Flags().StringSliceVar(&pinnedFiles, "pin", nil, "files always included in the prompt")
		cmd.Flags().BoolVar(&showEvents, "events", false, "print engine events to stderr")
	}

	rootCmd.AddCommand(chatCmd, runCmd, listCmd, modelsCmd, rmCmd, exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
