package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/attend/internal/ledger"
	"github.com/your-org/attend/internal/models"
)

func TestWriteCSV(t *testing.T) {
	class := uint16(4)
	at := time.Date(2026, 3, 2, 13, 4, 5, 0, time.UTC)
	rec := models.CheckInRecord{Date: models.DateOf(at)}
	rec.Slots[models.Afternoon] = models.Slot{CheckedIn: true, Time: &at}

	alice := models.Identity{ID: uuid.New(), DisplayName: "=cmd()", ClassID: &class}
	rec.IdentityID = alice.ID
	bob := models.Identity{ID: uuid.New(), DisplayName: "bob"}

	var buf bytes.Buffer
	err := WriteCSV(&buf, []ledger.ExportRow{
		{Identity: alice, Record: rec},
		{Identity: bob, Record: models.CheckInRecord{Date: rec.Date, IdentityID: bob.ID}},
	}, time.UTC)
	require.NoError(t, err)

	got, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, header, got[0])
	assert.Equal(t, []string{alice.ID.String(), "'=cmd()", "4", "2026-03-02", "", "13:04:05", ""}, got[1])
	assert.Equal(t, []string{bob.ID.String(), "bob", "", "2026-03-02", "", "", ""}, got[2])
}
