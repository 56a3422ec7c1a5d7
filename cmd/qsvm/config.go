package main

import (
	"fmt"
	"strconv"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"
	"github.com/theapemachine/qsvm"
)

// loadConfig resolves the config file and environment, then applies any
// flag the user set explicitly.
func loadConfig(cmd *cobra.Command) (*qsvm.Config, error) {
	cfg, err := qsvm.LoadConfig(cfgPathFlag)
	if err != nil {
		return nil, err
	}

	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}

	if changed("level") {
		cfg.Log.Level = levelFlag
	}
	if changed("embedding") {
		cfg.Device.Embedding = embeddingFlag
	}
	if changed("shots") {
		cfg.Device.Shots = shotsFlag
	}
	if changed("classes") {
		cfg.Dataset.Classes = classesFlag
	}

	if err := qsvm.SetLogLevel(cfg.Log.Level); err != nil {
		return nil, err
	}

	if dumpFlag {
		spew.Fdump(cmd.ErrOrStderr(), cfg)
	}

	return cfg, nil
}

// parsePair reads two samples of n features each from args.
func parsePair(args []string, n int) ([]float64, []float64, error) {
	if len(args) != 2*n {
		return nil, nil, fmt.Errorf("want %d values (two samples of %d features), got %d", 2*n, n, len(args))
	}

	values := make([]float64, len(args))
	for i, arg := range args {
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		values[i] = v
	}

	return values[:n], values[n:], nil
}
