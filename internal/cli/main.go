package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-clipper/internal/config"
)

func Main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "clipper",
		Short:         "Frame-accurate clip marking and export for local video",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)

	addServeFlags(root)
	root.AddCommand(newServeCmd(), newProbeCmd(), newCutCmd(), newPlayCmd())
	return root
}
