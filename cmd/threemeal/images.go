package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newImagesCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images",
		Short: "Maintain stored card images",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Remove images no food card references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			refs, err := a.FoodCards.ImageRefs(cmd.Context())
			if err != nil {
				return err
			}
			n, err := a.Images.Prune(cmd.Context(), refs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d image(s)\n", n)
			return nil
		},
	})
	return cmd
}
