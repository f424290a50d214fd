package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/threemeal/backend/internal/models"
)

func newCardsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cards",
		Short: "Manage food cards",
	}
	cmd.AddCommand(newCardsListCmd(opts), newCardsAddCmd(opts), newCardsDeleteCmd(opts))
	return cmd
}

func newCardsListCmd(opts *globalOptions) *cobra.Command {
	var typ, query string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List food cards, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var cards []*models.FoodCard
			switch {
			case query != "":
				cards, err = a.FoodCards.Search(cmd.Context(), query)
			case typ != "":
				t, perr := models.ParseFoodType(typ)
				if perr != nil {
					return perr
				}
				cards, err = a.FoodCards.ListByType(cmd.Context(), t)
			default:
				cards, err = a.FoodCards.ListAll(cmd.Context())
			}
			if err != nil {
				return err
			}
			printCards(cmd.OutOrStdout(), cards)
			return nil
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "takeout, homemade or dine_in")
	cmd.Flags().StringVarP(&query, "query", "q", "", "name substring")
	return cmd
}

func newCardsAddCmd(opts *globalOptions) *cobra.Command {
	var (
		card           models.FoodCard
		typ, imagePath string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a food card from an image file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := models.ParseFoodType(typ)
			if err != nil {
				return err
			}
			card.Type = t

			f, err := os.Open(imagePath)
			if err != nil {
				return fmt.Errorf("failed to open image: %w", err)
			}
			defer f.Close()

			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if card.ImageRef, err = a.Images.Import(cmd.Context(), f); err != nil {
				return err
			}
			if _, err := a.FoodCards.Insert(cmd.Context(), &card); err != nil {
				// Drop the image nobody references.
				a.Images.Remove(card.ImageRef)
				return err
			}
			printCards(cmd.OutOrStdout(), []*models.FoodCard{&card})
			return nil
		},
	}
	cmd.Flags().StringVar(&card.Name, "name", "", "card name")
	cmd.Flags().StringVar(&imagePath, "image", "", "image file (jpeg, png or webp)")
	cmd.Flags().Float64Var(&card.Price, "price", 0, "price")
	cmd.Flags().StringVar(&typ, "type", string(models.FoodTypeHomemade), "takeout, homemade or dine_in")
	cmd.Flags().StringVar(&card.Note, "note", "", "note")
	cmd.Flags().StringVar(&card.Location, "location", "", "restaurant, for dine_in")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("image")
	return cmd
}

func newCardsDeleteCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete food cards by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid id %q", arg)
				}
				ids = append(ids, id)
			}

			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.FoodCards.DeleteByIDs(cmd.Context(), ids)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d food card(s)\n", n)
			return nil
		},
	}
}

func printCards(out io.Writer, cards []*models.FoodCard) {
	if len(cards) == 0 {
		fmt.Fprintln(out, "No food cards found.")
		return
	}
	for _, c := range cards {
		fmt.Fprintf(out, "%d | %s | %s | %.2f | %s\n", c.ID, c.Name, c.Type, c.Price, c.ImageRef)
	}
}
