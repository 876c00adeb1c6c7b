package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/attend/internal/api/handlers"
	"github.com/your-org/attend/internal/enroll"
	"github.com/your-org/attend/internal/ledger"
	"github.com/your-org/attend/internal/models"
	"github.com/your-org/attend/internal/session"
	"github.com/your-org/attend/pkg/dto"
)

const testKey = "secret"

// faceAdapter finds one face in any non-black image and encodes its centre red value.
type faceAdapter struct{}

func (faceAdapter) DetectFaces(img image.Image) ([]models.BBox, error) {
	b := img.Bounds()
	r, _, _, _ := img.At(b.Dx()/2, b.Dy()/2).RGBA()
	if r == 0 {
		return nil, nil
	}
	return []models.BBox{{float32(b.Min.X), float32(b.Min.Y), float32(b.Max.X), float32(b.Max.Y)}}, nil
}

func (faceAdapter) Encode(face image.Image) (models.Encoding, error) {
	b := face.Bounds()
	r, _, _, _ := face.At((b.Min.X+b.Max.X)/2, (b.Min.Y+b.Max.Y)/2).RGBA()
	return models.Encoding{float32(r>>8) / 255, 0}, nil
}

type fakeSessions struct {
	active  *session.Session
	preview []byte
	resolveFn func(string, uuid.UUID) (ledger.Result, error)
}

func (f *fakeSessions) Start(_ context.Context, opts session.Options) (*session.Session, error) {
	if f.active != nil {
		return nil, session.ErrSessionActive
	}
	f.active = &session.Session{ID: uuid.New(), Mode: opts.Mode, Options: opts, StartedAt: time.Now()}
	return f.active, nil
}

func (f *fakeSessions) Stop() error {
	if f.active == nil {
		return session.ErrNoActiveSession
	}
	f.active = nil
	return nil
}

func (f *fakeSessions) Cancel() error { return f.Stop() }

func (f *fakeSessions) Status() session.Status {
	return session.Status{State: session.StateIdle, Message: "idle"}
}

func (f *fakeSessions) Preview() ([]byte, error) {
	if f.preview == nil {
		return nil, session.ErrNoPreview
	}
	return f.preview, nil
}

func (f *fakeSessions) Resolutions() []session.Resolution { return nil }

func (f *fakeSessions) Resolve(_ context.Context, id string, identityID uuid.UUID) (ledger.Result, error) {
	if f.resolveFn != nil {
		return f.resolveFn(id, identityID)
	}
	return ledger.Result{}, session.ErrResolutionNotFound
}

type countingSnapshots struct{ cleared int }

func (s *countingSnapshots) ClearSnapshots(context.Context) error {
	s.cleared++
	return nil
}

type harness struct {
	router    *gin.Engine
	ledger    *ledger.Ledger
	svc       *enroll.Service
	sessions  *fakeSessions
	snapshots *countingSnapshots
}

func newHarness(t *testing.T, checks map[string]handlers.Check) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	schedule, err := models.NewDaySchedule(0, 12*time.Hour, 18*time.Hour, time.UTC)
	require.NoError(t, err)

	identities := enroll.NewMemoryStore()
	l := ledger.New(ledger.NewMemoryStore(), identities, schedule)
	h := &harness{
		ledger:    l,
		svc:       enroll.NewService(identities, faceAdapter{}, l, 2),
		sessions:  &fakeSessions{},
		snapshots: &countingSnapshots{},
	}
	h.router = NewRouter(RouterConfig{
		APIKey:     testKey,
		Enrollment: h.svc,
		Sessions:   h.sessions,
		Ledger:     l,
		Snapshots:  h.snapshots,
		Checks:     checks,
	})
	return h
}

func (h *harness) do(method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("X-API-Key", testKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func (h *harness) call(method, path string, v any) *httptest.ResponseRecorder {
	var body []byte
	if v != nil {
		body, _ = json.Marshal(v)
	}
	return h.do(method, path, body, "application/json")
}

func pngOf(t *testing.T, red uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: red, A: 255}}, image.Point{}, draw.Src)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartImage(t *testing.T, fields map[string]string, img []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if img != nil {
		fw, err := mw.CreateFormFile("image", "face.png")
		require.NoError(t, err)
		_, err = fw.Write(img)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func (h *harness) enroll(t *testing.T, name string, red uint8) dto.IdentityResponse {
	t.Helper()
	body, ct := multipartImage(t, map[string]string{"name": name, "class_id": "3"}, pngOf(t, red))
	w := h.do(http.MethodPost, "/v1/identities", body, ct)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp dto.IdentityResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestAPIKey(t *testing.T) {
	h := newHarness(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/identities", nil)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req.Header.Set("X-API-Key", "wrong")
	w = httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	assert.Equal(t, http.StatusOK, h.call(http.MethodGet, "/v1/identities", nil).Code)
}

func TestIdentityLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.enroll(t, "alice", 100)
	assert.Equal(t, "alice", alice.DisplayName)
	require.NotNil(t, alice.ClassID)
	assert.Equal(t, uint16(3), *alice.ClassID)
	assert.Equal(t, 2, alice.EncodingDim)

	name := "Alice B."
	w := h.call(http.MethodPatch, "/v1/identities/"+alice.ID.String(), dto.UpdateIdentityRequest{DisplayName: &name, ClearClass: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated dto.IdentityResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, name, updated.DisplayName)
	assert.Nil(t, updated.ClassID)

	body, ct := multipartImage(t, nil, pngOf(t, 200))
	w = h.do(http.MethodPut, "/v1/identities/"+alice.ID.String()+"/face", body, ct)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = h.call(http.MethodGet, "/v1/identities", nil)
	var list struct {
		Identities []dto.IdentityResponse `json:"identities"`
		Total      int                    `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)

	assert.Equal(t, http.StatusNoContent, h.call(http.MethodDelete, "/v1/identities/"+alice.ID.String(), nil).Code)
	assert.Equal(t, http.StatusNotFound, h.call(http.MethodGet, "/v1/identities/"+alice.ID.String(), nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.call(http.MethodGet, "/v1/identities/nope", nil).Code)
}

func TestEnrollErrors(t *testing.T) {
	h := newHarness(t, nil)

	body, ct := multipartImage(t, map[string]string{"name": "dark"}, pngOf(t, 0))
	w := h.do(http.MethodPost, "/v1/identities", body, ct)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), string(models.ErrorKindNoFaceDetected))

	body, ct = multipartImage(t, map[string]string{"name": "nobody"}, nil)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/v1/identities", body, ct).Code)

	body, ct = multipartImage(t, map[string]string{"class_id": "70000"}, pngOf(t, 50))
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/v1/identities", body, ct).Code)
}

func TestSessionEndpoints(t *testing.T) {
	h := newHarness(t, nil)

	assert.Equal(t, http.StatusBadRequest, h.call(http.MethodPost, "/v1/session/start", dto.StartSessionRequest{Mode: "sideways"}).Code)
	assert.Equal(t, http.StatusBadRequest, h.call(http.MethodPost, "/v1/session/start", dto.StartSessionRequest{Timeout: "soon"}).Code)

	w := h.do(http.MethodPost, "/v1/session/start", nil, "")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp dto.SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "checkin", resp.Mode)

	assert.Equal(t, http.StatusConflict, h.call(http.MethodPost, "/v1/session/start", dto.StartSessionRequest{Mode: "gated"}).Code)
	assert.Equal(t, http.StatusAccepted, h.call(http.MethodPost, "/v1/session/stop", nil).Code)
	assert.Equal(t, http.StatusConflict, h.call(http.MethodPost, "/v1/session/cancel", nil).Code)

	w = h.call(http.MethodGet, "/v1/session", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"idle"`)

	assert.Equal(t, http.StatusNotFound, h.call(http.MethodGet, "/v1/session/preview", nil).Code)
	h.sessions.preview = []byte{0xff, 0xd8, 0xff}
	w = h.call(http.MethodGet, "/v1/session/preview", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
}

func TestResolve(t *testing.T) {
	h := newHarness(t, nil)
	id := uuid.New()

	assert.Equal(t, http.StatusBadRequest, h.call(http.MethodPost, "/v1/resolutions/r1", map[string]string{}).Code)
	assert.Equal(t, http.StatusNotFound, h.call(http.MethodPost, "/v1/resolutions/r1", dto.ResolveRequest{IdentityID: id}).Code)

	h.sessions.resolveFn = func(rid string, identityID uuid.UUID) (ledger.Result, error) {
		if identityID != id {
			return ledger.Result{}, session.ErrNotACandidate
		}
		return ledger.Result{
			IdentityID: identityID,
			Date:       time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
			Part:       models.Afternoon,
			Changed:    true,
		}, nil
	}
	assert.Equal(t, http.StatusBadRequest, h.call(http.MethodPost, "/v1/resolutions/r1", dto.ResolveRequest{IdentityID: uuid.New()}).Code)

	w := h.call(http.MethodPost, "/v1/resolutions/r1", dto.ResolveRequest{IdentityID: id})
	require.Equal(t, http.StatusOK, w.Code)
	var res dto.CheckInResultResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "afternoon", res.DayPart)
	assert.Equal(t, "2026-03-02", res.Date)
	assert.True(t, res.Changed)
}

func TestCheckInEndpoints(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.enroll(t, "alice", 100)
	bob := h.enroll(t, "bob", 150)

	now := time.Now()
	_, err := h.ledger.CheckIn(context.Background(), now, alice.ID)
	require.NoError(t, err)
	part, _ := h.ledger.Schedule().At(now)

	w := h.call(http.MethodGet, "/v1/checkins", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var day dto.CheckInsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &day))
	require.Equal(t, 2, day.Total)
	assert.True(t, day.Records[0].Slots[part.String()].CheckedIn)
	assert.False(t, day.Records[1].Slots[part.String()].CheckedIn)

	w = h.call(http.MethodGet, "/v1/checkins/unchecked?day_part="+part.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), bob.ID.String())
	assert.NotContains(t, w.Body.String(), alice.ID.String())

	assert.Equal(t, http.StatusBadRequest, h.call(http.MethodGet, "/v1/checkins/unchecked?day_part=noon", nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.call(http.MethodGet, "/v1/checkins?date=yesterday", nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.call(http.MethodGet, "/v1/checkins/export?kind=maybe", nil).Code)

	w = h.call(http.MethodGet, "/v1/checkins/export?kind=checked_in", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/csv"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "checked_in")
	records, err := csv.NewReader(w.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, alice.ID.String(), records[1][0])

	assert.Equal(t, http.StatusNoContent, h.call(http.MethodDelete, "/v1/checkins", nil).Code)
	assert.Equal(t, 1, h.snapshots.cleared)

	w = h.call(http.MethodGet, "/v1/checkins/export?kind=unchecked", nil)
	records, err = csv.NewReader(w.Body).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestClearIdentitiesClearsLedger(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.enroll(t, "alice", 100)
	_, err := h.ledger.CheckIn(context.Background(), time.Now(), alice.ID)
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, h.call(http.MethodDelete, "/v1/identities", nil).Code)

	recs, err := h.ledger.QueryToday(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSystemEndpoints(t *testing.T) {
	h := newHarness(t, map[string]handlers.Check{
		"postgres": func(context.Context) error { return nil },
		"nats":     func(context.Context) error { return errors.New("nats not connected") },
	})

	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "nats not connected")
	assert.Contains(t, w.Body.String(), `"postgres":"ok"`)
}
