// Command stratum-schema validates and inspects schema definition files.
package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"stratum/pkg/schema"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "stratum-schema",
		Short:         "Validate and inspect stratum schema files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newValidateCommand(), newShowCommand())
	return root
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <schema.yaml>",
		Short: "Check a schema file for structural errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := schema.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d roles ok\n", args[0], len(reg.Roles()))
			return nil
		},
	}
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <schema.yaml>",
		Short: "Print each role with its relation partition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := schema.Load(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, name := range reg.Roles() {
				role, ok := reg.Role(name)
				if !ok {
					return fmt.Errorf("unknown role %q", name)
				}
				fmt.Fprintf(out, "%s (table %s, pk %s", role.Name, role.Table, role.PrimaryKey)
				if role.GeneratedKey {
					fmt.Fprint(out, ", generated")
				}
				fmt.Fprintln(out, ")")
				part, err := reg.Partition(role.Name)
				if err != nil {
					return err
				}
				printRelations(out, "masters", part.Masters)
				printRelations(out, "slaves", part.Slaves)
				printRelations(out, "embedded", part.Embedded)
			}
			return nil
		},
	}
}

func printRelations(out io.Writer, group string, rels []schema.Relation) {
	if len(rels) == 0 {
		return
	}
	sorted := make([]schema.Relation, len(rels))
	copy(sorted, rels)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, rel := range sorted {
		fmt.Fprintf(out, "  %-8s %s -> %s (%s, %s=%s)\n",
			group, rel.Name, rel.Target, rel.Kind, rel.InnerKey, rel.OuterKey)
	}
}
