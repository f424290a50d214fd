package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/threemeal/backend/internal/models"
)

func newMealsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meals",
		Short: "Manage meal records",
	}
	cmd.AddCommand(newMealsListCmd(opts), newMealsDatesCmd(opts), newMealsLogCmd(opts), newMealsDeleteCmd(opts))
	return cmd
}

func newMealsListCmd(opts *globalOptions) *cobra.Command {
	var date, from, to string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List meal records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var meals []*models.MealRecord
			switch {
			case date != "":
				meals, err = a.MealRecords.ListByDate(cmd.Context(), models.Date(date))
				models.SortByDayOrder(meals)
			case from != "" || to != "":
				meals, err = a.MealRecords.ListByDateRange(cmd.Context(), models.Date(from), models.Date(to))
			default:
				meals, err = a.MealRecords.ListAll(cmd.Context())
			}
			if err != nil {
				return err
			}
			printMeals(cmd.OutOrStdout(), meals)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "one day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&from, "from", "", "first day of a range")
	cmd.Flags().StringVar(&to, "to", "", "last day of a range")
	return cmd
}

func newMealsDatesCmd(opts *globalOptions) *cobra.Command {
	var month string

	cmd := &cobra.Command{
		Use:   "dates",
		Short: "List the days that have meal records, latest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var dates []models.Date
			if month != "" {
				t, perr := time.Parse("2006-01", month)
				if perr != nil {
					return fmt.Errorf("invalid month %q: want YYYY-MM", month)
				}
				dates, err = a.MealRecords.ListDatesInMonth(cmd.Context(), t.Year(), t.Month())
			} else {
				dates, err = a.MealRecords.ListDates(cmd.Context())
			}
			if err != nil {
				return err
			}
			for _, d := range dates {
				fmt.Fprintln(cmd.OutOrStdout(), d)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "restrict to one month (YYYY-MM)")
	return cmd
}

func newMealsLogCmd(opts *globalOptions) *cobra.Command {
	var mood, note string
	var cards []int64

	cmd := &cobra.Command{
		Use:   "log <date> <meal-type>",
		Short: "Record a meal, replacing whatever the slot held",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := models.ParseDate(args[0])
			if err != nil {
				return err
			}
			mt, err := models.ParseMealType(args[1])
			if err != nil {
				return err
			}
			m, err := models.ParseMood(mood)
			if err != nil {
				return err
			}

			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			rec := &models.MealRecord{Date: d, MealType: mt, FoodCardIDs: cards, Mood: m, Note: note}
			if _, err := a.MealRecords.SaveForSlot(cmd.Context(), rec); err != nil {
				return err
			}
			printMeals(cmd.OutOrStdout(), []*models.MealRecord{rec})
			return nil
		},
	}
	cmd.Flags().Int64SliceVar(&cards, "cards", nil, "food card ids, comma separated")
	cmd.Flags().StringVar(&mood, "mood", string(models.MoodNormal), "happy, normal or terrible")
	cmd.Flags().StringVar(&note, "note", "", "note")
	return cmd
}

func newMealsDeleteCmd(opts *globalOptions) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete one meal record, or every record of --date",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 1) == (date != "") {
				return fmt.Errorf("give either an id or --date")
			}

			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if date != "" {
				n, err := a.MealRecords.DeleteByDate(cmd.Context(), models.Date(date))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d meal record(s)\n", n)
				return nil
			}

			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			if err := a.MealRecords.Delete(cmd.Context(), &models.MealRecord{ID: id}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted meal record %d\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "delete every record of this day")
	return cmd
}

func printMeals(out io.Writer, meals []*models.MealRecord) {
	if len(meals) == 0 {
		fmt.Fprintln(out, "No meal records found.")
		return
	}
	for _, m := range meals {
		ids := make([]string, len(m.FoodCardIDs))
		for i, id := range m.FoodCardIDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		fmt.Fprintf(out, "%d | %s | %s | %s | [%s]", m.ID, m.Date, m.MealType, m.Mood, strings.Join(ids, ","))
		if m.Note != "" {
			fmt.Fprintf(out, " | %s", m.Note)
		}
		fmt.Fprintln(out)
	}
}
