package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/xhuma/gateway/internal/config"
	"github.com/xhuma/gateway/internal/platform/ccda"
	"github.com/xhuma/gateway/internal/platform/db"
	"github.com/xhuma/gateway/migrations"
	"github.com/xhuma/gateway/pkg/fhirmodels"
	"github.com/xhuma/gateway/pkg/nhsnumber"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "xhuma-server",
		Short:        "GP Connect to IHE XCA gateway",
		SilenceUsage: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(convertCmd())
	root.AddCommand(nhsNumberCmd())
	root.AddCommand(migrateCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the SOAP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// convertCmd transcodes a structured record bundle without contacting
// GP Connect.
func convertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert [bundle.json]",
		Short: "Convert a GP Connect structured record bundle to a C-CDA document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			org, _ := cmd.Flags().GetString("organisation")
			oid, _ := cmd.Flags().GetString("oid")
			return convert(in, cmd.OutOrStdout(), org, oid)
		},
	}
	cmd.Flags().String("organisation", "Xhuma", "Author and custodian organisation name")
	cmd.Flags().String("oid", "2.16.840.1.113883.2.1.3.34.9001", "Organisation OID used as the document id root")
	return cmd
}

func convert(in io.Reader, out io.Writer, org, oid string) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read bundle: %w", err)
	}
	bundle, err := fhirmodels.ParseBundle(data)
	if err != nil {
		return err
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	doc, err := ccda.NewGenerator(org, oid, logger).GenerateDocument(bundle)
	if err != nil {
		return fmt.Errorf("generate document: %w", err)
	}
	_, err = out.Write(doc)
	return err
}

func nhsNumberCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nhs-number <number>...",
		Short: "Validate and format NHS numbers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkNHSNumbers(cmd.OutOrStdout(), args)
		},
	}
}

func checkNHSNumbers(out io.Writer, args []string) error {
	invalid := 0
	for _, arg := range args {
		nnn := nhsnumber.Normalize(arg)
		if err := nhsnumber.Validate(nnn); err != nil {
			fmt.Fprintf(out, "%s\tinvalid\t%v\n", arg, err)
			invalid++
			continue
		}
		fmt.Fprintf(out, "%s\tvalid\t%s\n", arg, nhsnumber.Format(nnn))
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d NHS numbers invalid", invalid, len(args))
	}
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run audit database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(dir, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(dir, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatuses(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func withMigrator(dir string, fn func(context.Context, *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrations")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	var files fs.FS = migrations.Files
	if dir != "" {
		files = os.DirFS(dir)
	}
	return fn(ctx, db.NewMigrator(pool, files))
}

func printStatuses(out io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}
