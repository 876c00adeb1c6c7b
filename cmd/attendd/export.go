package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/your-org/attend/internal/export"
	"github.com/your-org/attend/internal/ledger"
	"github.com/your-org/attend/internal/models"
	"github.com/your-org/attend/internal/observability"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write today's check-ins as CSV",
	Long: `Write today's checked-in or unchecked identities as CSV.
With --day-part only that slot is considered; otherwise checked-in means any
slot and unchecked means at least one slot is still open.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().String("kind", "checked_in", "subset to export: checked_in or unchecked")
	exportCmd.Flags().String("day-part", "", "morning, afternoon or evening")
	exportCmd.Flags().StringP("output", "o", "", "output file (default stdout)")
}

func runExport(cmd *cobra.Command, _ []string) error {
	kindFlag, _ := cmd.Flags().GetString("kind")
	partFlag, _ := cmd.Flags().GetString("day-part")
	output, _ := cmd.Flags().GetString("output")

	kind, err := ledger.ParseExportKind(kindFlag)
	if err != nil {
		return err
	}
	var part *models.DayPart
	if partFlag != "" {
		p, err := models.ParseDayPart(partFlag)
		if err != nil {
			return err
		}
		part = &p
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Keep stdout for the CSV.
	slog.SetDefault(observability.NewLogger(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format))
	ctx := cmd.Context()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	rows, err := st.ledger.ExportSubset(ctx, kind, part)
	if err != nil {
		return fmt.Errorf("export subset: %w", err)
	}

	var w io.Writer = cmd.OutOrStdout()
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}

	if err := export.WriteCSV(w, rows, st.ledger.Schedule().Location); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	slog.Info("export written", "kind", kind, "rows", len(rows), "output", output)
	return nil
}
