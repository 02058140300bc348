package middleware

import (
	"mime"
	"net/http"
	"strings"

	"github.com/BradenHooton/bulwark/internal/models"
	pkghttp "github.com/BradenHooton/bulwark/pkg/http"
)

// UploadGuard rejects upload bodies that are too large or of a type outside
// allowedTypes, reporting each rejection as FILE_UPLOAD_REJECTED. Bodies
// without a declared length are capped with http.MaxBytesReader.
func (s *Security) UploadGuard(maxBytes int64, allowedTypes []string) func(next http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				s.RejectUpload(r, "file too large", models.EventDetails{
					"size":      r.ContentLength,
					"max_bytes": maxBytes,
				})
				pkghttp.WriteRequestTooLarge(w, "Upload exceeds the maximum allowed size")
				return
			}

			mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil {
				mediaType = ""
			}
			if _, ok := allowed[mediaType]; !ok {
				s.RejectUpload(r, "file type not allowed", models.EventDetails{
					"content_type": r.Header.Get("Content-Type"),
				})
				pkghttp.WriteUnsupportedMediaType(w, "Upload type is not allowed")
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// RejectUpload records a FILE_UPLOAD_REJECTED event for r
func (s *Security) RejectUpload(r *http.Request, reason string, details models.EventDetails) {
	if details == nil {
		details = models.EventDetails{}
	}
	details["reason"] = reason
	s.emit(r, models.EventFileUploadRejected, models.SeverityMedium, s.ClientIP(r), requestIdentity(r), details)
}
