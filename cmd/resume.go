package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/equity-research/internal/model"
)

var (
	resumeStatePath string
	resumeJSON      bool
)

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume a run suspended for human review",
	Long:  "Resumes a suspended run from its checkpoint. With --state, the edited run state (for example with corrected metrics) replaces the checkpointed one.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		edited, err := readEditedState(resumeStatePath)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		st, err := env.Pipeline.Resume(ctx, args[0], edited)
		if err != nil {
			return eris.Wrap(err, "resume run")
		}
		return writeRunResult(os.Stdout, st, resumeJSON)
	},
}

func init() {
	resumeCmd.Flags().StringVar(&resumeStatePath, "state", "", "path to an edited run state JSON file")
	resumeCmd.Flags().BoolVar(&resumeJSON, "json", false, "print the full run state as JSON")
	rootCmd.AddCommand(resumeCmd)
}

// readEditedState loads an edited RunState. An empty path returns nil, which
// resumes with the checkpointed state.
func readEditedState(path string) (*model.RunState, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read state file %s", path)
	}
	var st model.RunState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, eris.Wrapf(err, "decode state file %s", path)
	}
	return &st, nil
}
