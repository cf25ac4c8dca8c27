package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/woxQAQ/ndll/internal/addon"
	"github.com/woxQAQ/ndll/internal/config"
	"github.com/woxQAQ/ndll/internal/host"
	"github.com/woxQAQ/ndll/pkg/ndll"
)

func newCallCommand() *cobra.Command {
	callCommand := &cobra.Command{
		Use:   "call LIBRARY FUNCTION [ARG...]",
		Short: "Load a function from a library, call it once and print the result",
		Long: `Load FUNCTION from LIBRARY and call it with the given arguments.

Arguments are parsed as null, booleans, integers and floats where possible;
anything else, or a double-quoted value, is passed as a string. The arity
defaults to the number of arguments.`,
		Args: cobra.MinimumNArgs(2),
		RunE: callAction,
	}
	callCommand.Flags().Int("arity", -2, "Fixed arity of the function (default: number of arguments)")
	callCommand.Flags().Bool("mult", false, "Load the variadic <name>__MULT entry")
	callCommand.Flags().String("backend", "", "Backend to load with [native, wasm] (default: wasm for .wasm files)")
	return callCommand
}

func callAction(cmd *cobra.Command, args []string) error {
	path, name, rest := args[0], args[1], args[2:]

	arity, err := cmd.Flags().GetInt("arity")
	if err != nil {
		return err
	}
	mult, err := cmd.Flags().GetBool("mult")
	if err != nil {
		return err
	}
	backend, err := cmd.Flags().GetString("backend")
	if err != nil {
		return err
	}

	switch {
	case mult && cmd.Flags().Changed("arity"):
		return fmt.Errorf("option --mult conflicts with --arity")
	case mult:
		arity = ndll.VarArgs
	case !cmd.Flags().Changed("arity"):
		arity = len(rest)
	}
	if backend == "" {
		backend = addon.BackendNative
		if filepath.Ext(path) == ".wasm" {
			backend = addon.BackendWasm
		}
	}

	return withHost(cmd, func(_ context.Context, h *host.Host, _ *config.Config) error {
		result, err := h.CallLibrary(backend, path, name, arity, parseArgs(rest)...)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), formatValue(result))
		return nil
	})
}
