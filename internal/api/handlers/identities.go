package handlers

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/attend/internal/enroll"
	"github.com/your-org/attend/internal/models"
	"github.com/your-org/attend/pkg/dto"
)

const maxImageBytes = 10 << 20

// Enrollment is the enrollment service as used by the HTTP layer.
type Enrollment interface {
	Snapshot(ctx context.Context) ([]models.Identity, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Identity, error)
	Enroll(ctx context.Context, name string, classID *uint16, img image.Image) (*models.Identity, error)
	ReEnroll(ctx context.Context, id uuid.UUID, img image.Image) (*models.Identity, error)
	Update(ctx context.Context, id uuid.UUID, p enroll.Patch) (*models.Identity, error)
	Remove(ctx context.Context, id uuid.UUID) error
	ClearAll(ctx context.Context) error
}

type IdentityHandler struct {
	svc Enrollment
}

func NewIdentityHandler(svc Enrollment) *IdentityHandler {
	return &IdentityHandler{svc: svc}
}

func toIdentityResponse(i models.Identity) dto.IdentityResponse {
	return dto.IdentityResponse{
		ID:          i.ID,
		DisplayName: i.DisplayName,
		ClassID:     i.ClassID,
		EncodingDim: len(i.Encoding),
		CreatedAt:   i.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   i.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// readImage decodes the multipart "image" field.
func readImage(c *gin.Context) (image.Image, error) {
	fh, err := c.FormFile("image")
	if err != nil {
		return nil, fmt.Errorf("image file is required")
	}
	if fh.Size > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

func parseClassID(s string) (*uint16, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid class_id")
	}
	id := uint16(v)
	return &id, nil
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identity id"})
		return uuid.Nil, false
	}
	return id, true
}

// Enroll creates an identity from a multipart form: image, name, class_id.
func (h *IdentityHandler) Enroll(c *gin.Context) {
	classID, err := parseClassID(c.PostForm("class_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	img, err := readImage(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	identity, err := h.svc.Enroll(c.Request.Context(), c.PostForm("name"), classID, img)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toIdentityResponse(*identity))
}

func (h *IdentityHandler) List(c *gin.Context) {
	identities, err := h.svc.Snapshot(c.Request.Context())
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

func (h *IdentityHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	identity, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toIdentityResponse(*identity))
}

// Update changes display name or class id without touching the encoding.
func (h *IdentityHandler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req dto.UpdateIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	identity, err := h.svc.Update(c.Request.Context(), id, enroll.Patch{
		DisplayName: req.DisplayName,
		ClassID:     req.ClassID,
		ClearClass:  req.ClearClass,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toIdentityResponse(*identity))
}

// ReplaceFace regenerates the encoding from a new image.
func (h *IdentityHandler) ReplaceFace(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	img, err := readImage(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	identity, err := h.svc.ReEnroll(c.Request.Context(), id, img)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toIdentityResponse(*identity))
}

func (h *IdentityHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.svc.Remove(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Clear removes every identity and the whole ledger.
func (h *IdentityHandler) Clear(c *gin.Context) {
	if err := h.svc.ClearAll(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
