package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attend/internal/export"
	"github.com/your-org/attend/internal/ledger"
	"github.com/your-org/attend/internal/models"
	"github.com/your-org/attend/pkg/dto"
)

// SnapshotClearer removes stored check-in snapshots.
type SnapshotClearer interface {
	ClearSnapshots(ctx context.Context) error
}

type CheckInHandler struct {
	ledger    *ledger.Ledger
	snapshots SnapshotClearer
}

// NewCheckInHandler builds the ledger endpoints. snapshots may be nil.
func NewCheckInHandler(l *ledger.Ledger, snapshots SnapshotClearer) *CheckInHandler {
	return &CheckInHandler{ledger: l, snapshots: snapshots}
}

func parseDayPart(c *gin.Context) (*models.DayPart, error) {
	s := c.Query("day_part")
	if s == "" {
		return nil, nil
	}
	p, err := models.ParseDayPart(s)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func toRecordResponse(row ledger.ExportRow, loc *time.Location) dto.CheckInRecordResponse {
	slots := make(map[string]dto.SlotResponse, len(models.DayParts))
	for _, part := range models.DayParts {
		slot := row.Record.Slot(part)
		resp := dto.SlotResponse{CheckedIn: slot.CheckedIn}
		if slot.Time != nil {
			resp.Time = slot.Time.In(loc).Format(time.RFC3339)
		}
		slots[part.String()] = resp
	}
	return dto.CheckInRecordResponse{
		IdentityID:  row.Identity.ID,
		DisplayName: row.Identity.DisplayName,
		Slots:       slots,
	}
}

// List returns every enrolled identity's record for ?date= (default today).
func (h *CheckInHandler) List(c *gin.Context) {
	date := h.ledger.Today()
	if s := c.Query("date"); s != "" {
		d, err := time.Parse(time.DateOnly, s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		date = d
	}

	rows, err := h.ledger.Report(c.Request.Context(), date)
	if err != nil {
		respondError(c, err)
		return
	}

	loc := h.ledger.Schedule().Location
	records := make([]dto.CheckInRecordResponse, 0, len(rows))
	for _, row := range rows {
		records = append(records, toRecordResponse(row, loc))
	}
	c.JSON(http.StatusOK, dto.CheckInsResponse{
		Date:    date.Format(time.DateOnly),
		Records: records,
		Total:   len(records),
	})
}

// Unchecked lists identities not yet checked in today for ?day_part=.
func (h *CheckInHandler) Unchecked(c *gin.Context) {
	part, err := parseDayPart(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	identities, err := h.ledger.QueryUnchecked(c.Request.Context(), part)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]dto.IdentityResponse, 0, len(identities))
	for _, i := range identities {
		resp = append(resp, toIdentityResponse(i))
	}
	c.JSON(http.StatusOK, gin.H{"identities": resp, "total": len(resp)})
}

// Export writes today's subset as CSV.
func (h *CheckInHandler) Export(c *gin.Context) {
	kind, err := ledger.ParseExportKind(c.Query("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	part, err := parseDayPart(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rows, err := h.ledger.ExportSubset(c.Request.Context(), kind, part)
	if err != nil {
		respondError(c, err)
		return
	}

	name := fmt.Sprintf("checkins_%s_%s", h.ledger.Today().Format(time.DateOnly), kind)
	if part != nil {
		name += "_" + part.String()
	}
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".csv"))
	c.Status(http.StatusOK)
	if err := export.WriteCSV(c.Writer, rows, h.ledger.Schedule().Location); err != nil {
		_ = c.Error(err)
	}
}

// Clear drops every record and stored snapshot.
func (h *CheckInHandler) Clear(c *gin.Context) {
	if err := h.ledger.ClearAll(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	if h.snapshots != nil {
		if err := h.snapshots.ClearSnapshots(c.Request.Context()); err != nil {
			respondError(c, err)
			return
		}
	}
	c.Status(http.StatusNoContent)
}
