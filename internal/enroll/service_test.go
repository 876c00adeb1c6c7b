package enroll

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/attend/internal/models"
)

// fakeAdapter reports one face covering the image and encodes it as the
// red channel of its centre pixel repeated dim times.
type fakeAdapter struct {
	dim   int
	faces bool
}

func (f *fakeAdapter) DetectFaces(img image.Image) ([]models.BBox, error) {
	if !f.faces {
		return nil, nil
	}
	b := img.Bounds()
	return []models.BBox{{float32(b.Min.X), float32(b.Min.Y), float32(b.Max.X), float32(b.Max.Y)}}, nil
}

func (f *fakeAdapter) Encode(face image.Image) (models.Encoding, error) {
	b := face.Bounds()
	r, _, _, _ := face.At((b.Min.X+b.Max.X)/2, (b.Min.Y+b.Max.Y)/2).RGBA()
	enc := make(models.Encoding, f.dim)
	for i := range enc {
		enc[i] = float32(r>>8) / 255
	}
	return enc, nil
}

type countingLedger struct {
	cleared   int
	forgotten []uuid.UUID
}

func (l *countingLedger) ClearAll(context.Context) error {
	l.cleared++
	return nil
}

func (l *countingLedger) ForgetIdentity(_ context.Context, id uuid.UUID) error {
	l.forgotten = append(l.forgotten, id)
	return nil
}

func face(red uint8) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: red, A: 255}}, image.Point{}, draw.Src)
	return img
}

func newService(faces bool) (*Service, *countingLedger) {
	ledger := &countingLedger{}
	return NewService(NewMemoryStore(), &fakeAdapter{dim: 4, faces: faces}, ledger, 4), ledger
}

func TestEnrollAndList(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(true)

	class := uint16(3)
	a, err := svc.Enroll(ctx, "alice", &class, face(255))
	require.NoError(t, err)
	b, err := svc.Enroll(ctx, "bob", nil, face(0))
	require.NoError(t, err)

	ids, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, a.ID, ids[0].ID, "enrollment order preserved")
	assert.Equal(t, b.ID, ids[1].ID)
	assert.Equal(t, models.Encoding{1, 1, 1, 1}, ids[0].Encoding)
	assert.EqualValues(t, 3, *ids[0].ClassID)
}

func TestEnrollNoFace(t *testing.T) {
	svc, _ := newService(false)
	_, err := svc.Enroll(context.Background(), "ghost", nil, face(10))
	assert.ErrorIs(t, err, models.ErrNoFaceDetected)
}

func TestAddRejectsWrongDimension(t *testing.T) {
	svc, _ := newService(true)
	_, err := svc.Add(context.Background(), "short", nil, models.Encoding{1, 2})
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)
}

func TestReEnrollReplacesEncodingOnly(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(true)

	a, err := svc.Enroll(ctx, "alice", nil, face(255))
	require.NoError(t, err)

	got, err := svc.ReEnroll(ctx, a.ID, face(0))
	require.NoError(t, err)
	assert.Equal(t, models.Encoding{0, 0, 0, 0}, got.Encoding)
	assert.Equal(t, "alice", got.DisplayName)
	assert.Equal(t, a.CreatedAt, got.CreatedAt)
}

func TestUpdateKeepsEncoding(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(true)

	class := uint16(7)
	a, err := svc.Enroll(ctx, "alice", &class, face(255))
	require.NoError(t, err)

	name := "Alice B."
	got, err := svc.Update(ctx, a.ID, Patch{DisplayName: &name, ClearClass: true})
	require.NoError(t, err)
	assert.Equal(t, "Alice B.", got.DisplayName)
	assert.Nil(t, got.ClassID)
	assert.Equal(t, a.Encoding, got.Encoding)
}

func TestRemoveUnknown(t *testing.T) {
	svc, _ := newService(true)
	err := svc.Remove(context.Background(), uuid.New())
	assert.ErrorIs(t, err, models.ErrUnknownIdentity)
}

func TestRemoveForgetsCheckIns(t *testing.T) {
	ctx := context.Background()
	svc, ledger := newService(true)

	a, err := svc.Enroll(ctx, "alice", nil, face(255))
	require.NoError(t, err)
	require.NoError(t, svc.Remove(ctx, a.ID))
	assert.Equal(t, []uuid.UUID{a.ID}, ledger.forgotten)

	require.Error(t, svc.Remove(ctx, a.ID))
	assert.Len(t, ledger.forgotten, 1, "a failed delete leaves the ledger alone")
}

func TestClearAllWipesLedgerToo(t *testing.T) {
	ctx := context.Background()
	svc, ledger := newService(true)

	_, err := svc.Enroll(ctx, "alice", nil, face(255))
	require.NoError(t, err)
	require.NoError(t, svc.ClearAll(ctx))

	ids, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, 1, ledger.cleared)
}

func TestSnapshotIsolatedFromStore(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(true)
	_, err := svc.Enroll(ctx, "alice", nil, face(255))
	require.NoError(t, err)

	ids, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	ids[0].Encoding[0] = 42

	again, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, again[0].Encoding[0])
}
