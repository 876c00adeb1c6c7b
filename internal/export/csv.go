// Package export renders ledger subsets as CSV.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/your-org/attend/internal/ledger"
	"github.com/your-org/attend/internal/models"
)

var header = []string{"identity_id", "name", "class_id", "date", "morning", "afternoon", "evening"}

// WriteCSV writes one row per identity. Slot columns hold the check-in
// time as HH:MM:SS in loc, or are empty.
func WriteCSV(w io.Writer, rows []ledger.ExportRow, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, r := range rows {
		class := ""
		if r.Identity.ClassID != nil {
			class = strconv.Itoa(int(*r.Identity.ClassID))
		}
		rec := []string{
			r.Identity.ID.String(),
			sanitize(r.Identity.DisplayName),
			class,
			r.Record.Date.Format(time.DateOnly),
		}
		for _, part := range models.DayParts {
			slot := r.Record.Slot(part)
			if slot.CheckedIn && slot.Time != nil {
				rec = append(rec, slot.Time.In(loc).Format(time.TimeOnly))
			} else {
				rec = append(rec, "")
			}
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// sanitize stops spreadsheet apps from evaluating names as formulas.
func sanitize(field string) string {
	if field != "" && strings.ContainsRune("=+-@\t\r", rune(field[0])) {
		return "'" + field
	}
	return field
}
