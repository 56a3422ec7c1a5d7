package main

import (
	"github.com/spf13/cobra"
	"github.com/theapemachine/qsvm"
)

func run(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	p, err := qsvm.NewPipeline(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	res, err := p.Run(cmd.Context())
	if err != nil {
		return err
	}

	return qsvm.Render(cmd.OutOrStdout(), res)
}

func runCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "train and evaluate the classifier",
		Long:  "load and split the wine data, evaluate the quantum kernel, fit the SVM and print the confusion matrix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd)
		},
	}

	attachFlags(runCmd, []string{"config", "level", "embedding", "shots", "classes", "dump"})
	return runCmd
}
