package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var flags *pflag.FlagSet

var (
	cfgPathFlag   string
	levelFlag     string
	embeddingFlag string
	shotsFlag     int
	classesFlag   []int
	dumpFlag      bool
)

func init() {
	resetFlags()
}

// resetFlags rebuilds the shared flag set so tests start from defaults.
func resetFlags() {
	flags = &pflag.FlagSet{}

	flags.StringVarP(&cfgPathFlag, "config", "c", "",
		"config file (default ./qsvm.yaml if present)")
	flags.StringVarP(&levelFlag, "level", "l", "",
		"log level: debug, info, warn, error")
	flags.StringVarP(&embeddingFlag, "embedding", "e", "",
		"feature embedding: angle or qaoa")
	flags.IntVarP(&shotsFlag, "shots", "s", 0,
		"measurement shots per kernel circuit, 0 for exact probabilities")
	flags.IntSliceVar(&classesFlag, "classes", nil,
		"zero-based wine classes to keep, e.g. 0,1 or 0,1,2")
	flags.BoolVar(&dumpFlag, "dump", false,
		"print the resolved configuration before running")
}

func attachFlags(cmd *cobra.Command, names []string) {
	cmdFlags := cmd.Flags()
	for _, name := range names {
		if flag := flags.Lookup(name); flag != nil {
			cmdFlags.AddFlag(flag)
		} else {
			panic(fmt.Errorf("could not find flag '%s' to attach to command '%s'", name, cmd.Name()))
		}
	}
}

func newMainCmd() *cobra.Command {
	mainCmd := &cobra.Command{
		Use:           "qsvm",
		Short:         "quantum kernel SVM on the wine dataset",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	mainCmd.AddCommand(runCmd(), kernelCmd(), circuitCmd())
	return mainCmd
}

func main() {
	if err := newMainCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
