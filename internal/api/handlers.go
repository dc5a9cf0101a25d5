package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/discussion-harvester/internal/export"
	"github.com/JakeFAU/discussion-harvester/internal/harvest"
	"github.com/JakeFAU/discussion-harvester/internal/orchestrator"
	"github.com/JakeFAU/discussion-harvester/internal/session"
	"github.com/JakeFAU/discussion-harvester/internal/storage"
	"github.com/JakeFAU/discussion-harvester/internal/verify"
)

type harvestRequest struct {
	URL       string `json:"url"`
	Cookie    string `json:"cookie"`
	MinVotes  *int   `json:"min_votes"`
	SessionID string `json:"session_id"`
}

type harvestResponse struct {
	Success bool `json:"success"`
	harvest.Result
}

type harvestFailure struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message"`
	Kind      string   `json:"kind"`
	Phase     string   `json:"phase,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Retryable bool     `json:"retryable"`
	Logs      []string `json:"logs"`
}

type verifyRequest struct {
	Cookie string `json:"cookie"`
}

func (s *Server) submitHarvest(w http.ResponseWriter, r *http.Request) {
	var req harvestRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	result, err := s.deps.Harvester.Harvest(r.Context(), orchestrator.Request{
		URL:       req.URL,
		Cookie:    req.Cookie,
		SessionID: req.SessionID,
		MinVotes:  req.MinVotes,
	})
	if err != nil {
		s.writeHarvestError(w, err)
		return
	}
	if result.Log == nil {
		result.Log = []string{}
	}
	if result.Records == nil {
		result.Records = []harvest.Record{}
	}
	s.writeJSON(w, http.StatusOK, harvestResponse{Success: true, Result: result})
}

func (s *Server) writeHarvestError(w http.ResponseWriter, err error) {
	body := harvestFailure{Message: err.Error(), Kind: string(harvest.KindOf(err)), Logs: []string{}}
	var herr *harvest.HarvestError
	if errors.As(err, &herr) {
		body.Phase = string(herr.Phase)
		body.SessionID = herr.SessionID
		body.Retryable = herr.Retryable()
		if herr.Log != nil {
			body.Logs = herr.Log
		}
	}
	status := statusFor(harvest.KindOf(err))
	if status >= http.StatusInternalServerError {
		s.logger.Error("harvest failed", zap.String("session_id", body.SessionID), zap.Error(err))
	}
	s.writeJSON(w, status, body)
}

func statusFor(kind harvest.ErrorKind) int {
	switch kind {
	case harvest.KindClientInput:
		return http.StatusBadRequest
	case harvest.KindNavigationTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	entry, err := s.deps.Progress.Get(id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrEmptyID) {
			s.writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "filename"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid file name")
		return
	}
	rc, err := s.deps.Downloads.Open(r.Context(), name)
	switch {
	case errors.Is(err, storage.ErrPathTraversal), errors.Is(err, storage.ErrEmptyPath):
		s.writeError(w, http.StatusBadRequest, "invalid file name")
		return
	case errors.Is(err, storage.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "file not found")
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, "open export failed")
		return
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil {
			s.logger.Warn("close export failed", zap.String("file", name), zap.Error(cerr))
		}
	}()

	w.Header().Set("Content-Type", contentTypeFor(name))
	w.Header().Set("Content-Disposition", contentDisposition(name))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("stream export failed", zap.String("file", name), zap.Error(err))
	}
}

// contentDisposition builds an attachment header. Non-ASCII names get an
// ASCII fallback plus an RFC 5987 filename* parameter.
func contentDisposition(name string) string {
	var fallback strings.Builder
	ascii := true
	for _, r := range name {
		switch {
		case r > unicode.MaxASCII || r < 0x20 || r == 0x7f:
			ascii = false
			fallback.WriteByte('_')
		case r == '"' || r == '\\':
			fallback.WriteByte('_')
		default:
			fallback.WriteRune(r)
		}
	}
	header := `attachment; filename="` + fallback.String() + `"`
	if ascii {
		return header
	}
	return header + "; filename*=UTF-8''" + rfc5987Escape(name)
}

func rfc5987Escape(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAttrChar(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isAttrChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("!#$&+-.^_`|~", c) >= 0
}

func contentTypeFor(name string) string {
	switch {
	case strings.HasSuffix(name, ".csv"):
		return export.ContentType
	case strings.HasSuffix(name, ".png"):
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

func (s *Server) verifyCookie(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Cookie) == "" {
		s.writeError(w, http.StatusBadRequest, "cookie is required")
		return
	}
	user, err := s.deps.Verifier.Verify(r.Context(), req.Cookie)
	switch {
	case errors.Is(err, harvest.ErrInvalidCookie), errors.Is(err, harvest.ErrMissingCredential):
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("cookie could not be parsed: %v", err))
		return
	case errors.Is(err, verify.ErrRejected):
		s.writeError(w, http.StatusUnauthorized, fmt.Sprintf("cookie invalid or expired: %v", err))
		return
	case err != nil:
		s.logger.Warn("cookie verification request failed", zap.Error(err))
		s.writeError(w, http.StatusBadGateway, fmt.Sprintf("cookie verification unavailable: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": user})
}
