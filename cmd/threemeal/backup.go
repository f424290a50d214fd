package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/threemeal/backend/internal/export"
	"github.com/kimhsiao/threemeal/backend/internal/export/scheduler"
	"github.com/kimhsiao/threemeal/backend/internal/models"
)

// passwordEnv supplies the archive password when --password is not given.
const passwordEnv = "THREEMEAL_EXPORT_PASSWORD"

func passwordFlag(cmd *cobra.Command, p *string) {
	cmd.Flags().StringVar(p, "password", "", "archive password (default $"+passwordEnv+")")
}

func resolvePassword(p string) string {
	if p != "" {
		return p
	}
	return os.Getenv(passwordEnv)
}

func newExportCmd(opts *globalOptions) *cobra.Command {
	var (
		out, password, from, to string
		images                  bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a backup archive",
		Long: `Writes food cards and meal records to a tar.gz archive, encrypted when a
password is given. Without --out the archive goes to the configured export
directory and the retention policy is applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var res *export.ExportResult
			if out == "" {
				res, err = a.Scheduler(a.Export, resolvePassword(password)).RunOnce(cmd.Context())
			} else {
				cfg := export.ExportConfig{
					OutputPath:    out,
					Password:      resolvePassword(password),
					IncludeImages: images,
				}
				if cfg.From, err = optionalDate(from); err != nil {
					return err
				}
				if cfg.To, err = optionalDate(to); err != nil {
					return err
				}
				res, err = a.Export.Export(cmd.Context(), cfg)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s | %d cards | %d meals | %d images | %d bytes | encrypted=%t\n",
				res.FilePath, res.FoodCards, res.Meals, res.Images, res.SizeBytes, res.Encrypted)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "archive path")
	cmd.Flags().StringVar(&from, "from", "", "first meal date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last meal date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&images, "images", false, "include card images")
	passwordFlag(cmd, &password)
	return cmd
}

func newImportCmd(opts *globalOptions) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "import <archive>",
		Short: "Merge a backup archive into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Export.Import(cmd.Context(), export.ImportConfig{
				ArchivePath: args[0],
				Password:    resolvePassword(password),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s | %d cards | %d meals | %d skipped | %d images\n",
				res.ArchiveID, res.FoodCards, res.Meals, res.SkippedMeals, res.Images)
			return nil
		},
	}
	passwordFlag(cmd, &password)
	return cmd
}

func newBackupsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "Inspect scheduled backups",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List archives in the export directory, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			archives, err := scheduler.ListArchives(cfg.ExportDir())
			if err != nil {
				return err
			}
			if len(archives) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No backups found.")
				return nil
			}
			for _, info := range archives {
				fmt.Fprintf(cmd.OutOrStdout(), "%s | %d bytes | %s\n",
					info.Path, info.SizeBytes, info.ModTime.Format(time.RFC3339))
			}
			return nil
		},
	})

	var password string
	show := &cobra.Command{
		Use:   "show <archive>",
		Short: "Print an archive's manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := opts.load(); err != nil {
				return err
			}
			m, err := export.ReadManifest(args[0], resolvePassword(password))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if m.Version == "" {
				fmt.Fprintln(out, "encrypted archive, password required")
				return nil
			}
			fmt.Fprintf(out, "id:        %s\n", m.ArchiveID)
			fmt.Fprintf(out, "exported:  %s\n", m.ExportedAt.UTC().Format(time.RFC3339))
			fmt.Fprintf(out, "cards:     %d\n", m.FoodCardCount)
			fmt.Fprintf(out, "meals:     %d\n", m.MealRecordCount)
			fmt.Fprintf(out, "images:    %d\n", m.ImageCount)
			fmt.Fprintf(out, "encrypted: %t\n", m.Encrypted)
			if m.From != "" || m.To != "" {
				fmt.Fprintf(out, "range:     %s..%s\n", m.From, m.To)
			}
			return nil
		},
	}
	passwordFlag(show, &password)
	cmd.AddCommand(show)
	return cmd
}

// optionalDate parses s when set.
func optionalDate(s string) (models.Date, error) {
	if s == "" {
		return "", nil
	}
	return models.ParseDate(s)
}
