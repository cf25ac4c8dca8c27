package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/woxQAQ/ndll/internal/bridge"
	"github.com/woxQAQ/ndll/internal/wasm"
)

func newAPICommand() *cobra.Command {
	apiCommand := &cobra.Command{
		Use:   "api",
		Short: "List the API entries plugins can resolve",
		Long: `List the names native plugins resolve through the loader callback, or with
--wasm the functions WebAssembly plugins import from the hxcffi module.`,
		Args: cobra.NoArgs,
		RunE: apiAction,
	}
	apiCommand.Flags().Bool("wasm", false, "List the hxcffi imports instead")
	return apiCommand
}

func apiAction(cmd *cobra.Command, _ []string) error {
	useWasm, err := cmd.Flags().GetBool("wasm")
	if err != nil {
		return err
	}
	names := bridge.EntryNames()
	if useWasm {
		names = wasm.HostFunctionNames()
		sort.Strings(names)
	}
	for _, name := range names {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}
