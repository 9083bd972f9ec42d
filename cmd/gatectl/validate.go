package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ganesh-swami/prvt-sub003/internal/module/catalog"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a pricing catalog document",
		Long:  `Parse a JSON or YAML catalog and print its plans in tier order.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := readCatalog(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Catalog valid (digest %s)\n", cat.Digest())
			fmt.Fprintf(out, "Plans:\n")
			for _, p := range cat.Plans() {
				fmt.Fprintf(out, "  %-12s tier=%d grants=%d\n", p.ID, p.Tier, len(p.Grants))
			}
			if addons := cat.Addons(); len(addons) > 0 {
				fmt.Fprintf(out, "Addons:\n")
				for _, a := range addons {
					fmt.Fprintf(out, "  %-12s grants=%d\n", a.ID, len(a.Grants))
				}
			}
			fmt.Fprintf(out, "Features: %s\n", strings.Join(cat.Features(), ", "))
			return nil
		},
	}
}

func readCatalog(path string) (*catalog.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	cat, err := catalog.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cat, nil
}
