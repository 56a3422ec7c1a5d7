package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/theapemachine/qsvm"
)

func newKernel(cfg *qsvm.Config) (*qsvm.Kernel, error) {
	device, err := qsvm.NewDevice(cfg.Device)
	if err != nil {
		return nil, err
	}

	embedding, err := qsvm.NewEmbedding(cfg.Device, len(cfg.Dataset.Features))
	if err != nil {
		return nil, err
	}

	return qsvm.NewKernel(embedding, device, cfg.Device.Shots), nil
}

func kernelCmd() *cobra.Command {
	kernelCmd := &cobra.Command{
		Use:   "kernel x1... x2...",
		Short: "evaluate the kernel for one pair of scaled samples",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			x1, x2, err := parsePair(args, len(cfg.Dataset.Features))
			if err != nil {
				return err
			}

			k, err := newKernel(cfg)
			if err != nil {
				return err
			}

			v, err := k.Evaluate(cmd.Context(), x1, x2)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%.6f\n", v)
			return err
		},
	}

	attachFlags(kernelCmd, []string{"config", "level", "embedding", "shots"})
	return kernelCmd
}

func circuitCmd() *cobra.Command {
	circuitCmd := &cobra.Command{
		Use:   "circuit x1... x2...",
		Short: "print the kernel circuit for one pair as OpenQASM 3",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			x1, x2, err := parsePair(args, len(cfg.Dataset.Features))
			if err != nil {
				return err
			}

			k, err := newKernel(cfg)
			if err != nil {
				return err
			}

			c, err := k.Circuit(x1, x2)
			if err != nil {
				return err
			}

			_, err = fmt.Fprint(cmd.OutOrStdout(), c.QASM())
			return err
		},
	}

	attachFlags(circuitCmd, []string{"config", "level", "embedding"})
	return circuitCmd
}
