package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/BradenHooton/bulwark/internal/models"
	pkghttp "github.com/BradenHooton/bulwark/pkg/http"
)

// UploadRejecter records rejected uploads as security events
type UploadRejecter interface {
	RejectUpload(r *http.Request, reason string, details models.EventDetails)
}

// UploadResponse describes an accepted upload
type UploadResponse struct {
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	SHA256      string `json:"sha256"`
}

// UploadHandler verifies upload bodies after UploadGuard has checked the
// declared size and type.
type UploadHandler struct {
	rejecter UploadRejecter
}

// NewUploadHandler creates a new UploadHandler
func NewUploadHandler(rejecter UploadRejecter) *UploadHandler {
	return &UploadHandler{rejecter: rejecter}
}

// Upload handles POST /api/uploads
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.rejecter.RejectUpload(r, "file too large", models.EventDetails{"max_bytes": tooLarge.Limit})
			pkghttp.WriteRequestTooLarge(w, "Upload exceeds the maximum allowed size")
			return
		}
		pkghttp.WriteBadRequest(w, "Failed to read upload")
		return
	}
	if len(data) == 0 {
		pkghttp.WriteBadRequest(w, "Upload is empty")
		return
	}

	declared, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	if declared != sniffed {
		h.rejecter.RejectUpload(r, "content does not match declared type", models.EventDetails{
			"declared": declared,
			"detected": sniffed,
		})
		pkghttp.WriteUnsupportedMediaType(w, "Upload content does not match its declared type")
		return
	}

	sum := sha256.Sum256(data)
	pkghttp.WriteJSON(w, http.StatusCreated, UploadResponse{
		Size:        int64(len(data)),
		ContentType: declared,
		SHA256:      hex.EncodeToString(sum[:]),
	})
}
