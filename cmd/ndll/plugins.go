package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/woxQAQ/ndll/internal/config"
	"github.com/woxQAQ/ndll/internal/host"
	"github.com/woxQAQ/ndll/pkg/ndll"
)

func newPluginsCommand() *cobra.Command {
	pluginsCommand := &cobra.Command{
		Use:   "plugins",
		Short: "Manage plugins found under the configured plugin paths",
	}
	pluginsCommand.AddCommand(
		&cobra.Command{
			Use:     "list",
			Aliases: []string{"ls"},
			Short:   "List loadable plugins and their functions",
			Args:    cobra.NoArgs,
			RunE:    pluginsListAction,
		},
		&cobra.Command{
			Use:   "call PLUGIN.FUNCTION [ARG...]",
			Short: "Call a plugin function and print the result",
			Args:  cobra.MinimumNArgs(1),
			RunE:  pluginsCallAction,
		},
	)
	return pluginsCommand
}

func pluginsListAction(cmd *cobra.Command, _ []string) error {
	return withHost(cmd, func(_ context.Context, h *host.Host, _ *config.Config) error {
		if err := h.LoadPlugins(); err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 4, 8, 4, ' ', 0)
		fmt.Fprintln(w, "NAME\tVERSION\tBACKEND\tFUNCTIONS")
		for _, a := range h.Manager().Registry().List() {
			fns := make([]string, 0, len(a.Functions))
			for _, name := range a.FunctionNames() {
				fns = append(fns, signature(name, a.Functions[name].Arity()))
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.Name(), a.Version(), a.Backend(), strings.Join(fns, ", "))
		}
		return w.Flush()
	})
}

func pluginsCallAction(cmd *cobra.Command, args []string) error {
	return withHost(cmd, func(_ context.Context, h *host.Host, _ *config.Config) error {
		if err := h.LoadPlugins(); err != nil {
			return err
		}
		result, err := h.Call(args[0], parseArgs(args[1:])...)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), formatValue(result))
		return nil
	})
}

func signature(name string, arity int) string {
	if arity == ndll.VarArgs {
		return name + "/mult"
	}
	return fmt.Sprintf("%s/%d", name, arity)
}
