package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openbid/pricematch/internal/embedding"
	"github.com/openbid/pricematch/internal/engine"
	"github.com/openbid/pricematch/internal/extract"
	"github.com/openbid/pricematch/internal/files"
	"github.com/openbid/pricematch/internal/match"
	"github.com/openbid/pricematch/internal/models"
	"github.com/openbid/pricematch/internal/session"
)

const maxUploadBytes = 64 << 20

func (s *Server) handleFileUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	kind := files.Kind(r.FormValue("kind"))
	if kind == "" {
		s.respondError(w, http.StatusBadRequest, "kind is required (wf or ref)")
		return
	}
	f, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer f.Close()

	s.logger.Debug("file upload request",
		zap.String("kind", string(kind)), zap.String("name", header.Filename))
	stored, err := s.files.Save(r.Context(), kind, header.Filename, f)
	if err != nil {
		if errors.Is(err, files.ErrInvalidFile) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("file upload failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleFileList(w http.ResponseWriter, r *http.Request) {
	kind := files.Kind(r.URL.Query().Get("kind"))
	if kind == "" {
		s.respondError(w, http.StatusBadRequest, "kind is required (wf or ref)")
		return
	}
	list, err := s.files.List(r.Context(), kind)
	if err != nil {
		s.logger.Error("file list failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []files.StoredFile{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"files": list})
}

func (s *Server) handleFileDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid file id")
		return
	}
	if err := s.files.Delete(r.Context(), id); err != nil {
		if errors.Is(err, files.ErrFileNotFound) {
			s.respondError(w, http.StatusNotFound, "file not found")
			return
		}
		s.logger.Error("file delete failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req models.CompareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	wfData, err := s.loadStoredFile(r, req.WorkingFile.FileID)
	if err != nil {
		s.respondFileError(w, "working_file", err)
		return
	}
	refData, err := s.loadStoredFile(r, req.ReferenceFile.FileID)
	if err != nil {
		s.respondFileError(w, "reference_file", err)
		return
	}

	wfRows, err := extract.Descriptions(wfData, req.WorkingFile.Sheet,
		req.WorkingFile.DescriptionColumn, req.WorkingFile.DescriptionRange)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "working file: "+err.Error())
		return
	}
	catalogRows, err := extract.Catalog(refData, req.ReferenceFile.Sheet,
		req.ReferenceFile.DescriptionColumn, req.ReferenceFile.PriceSourceColumn,
		req.ReferenceFile.DescriptionRange)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "reference file: "+err.Error())
		return
	}

	wfItems := make([]models.DescriptionItem, len(wfRows))
	for i, row := range wfRows {
		wfItems[i] = models.DescriptionItem{RowIndex: row.RowIndex, RawText: row.Text}
	}
	refItems := make([]models.CatalogEntry, len(catalogRows))
	for i, row := range catalogRows {
		refItems[i] = models.CatalogEntry{
			DescriptionItem: models.DescriptionItem{RowIndex: row.RowIndex, RawText: row.Text},
			UnitPrice:       row.UnitPrice,
		}
	}

	out, err := s.engine.RunMatch(r.Context(), wfItems, refItems, req.Threshold)
	if err != nil {
		switch {
		case errors.Is(err, match.ErrInvalidThreshold):
			s.respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, engine.ErrEmptyCatalog):
			s.respondError(w, http.StatusBadRequest, "reference file: "+err.Error())
		case errors.Is(err, embedding.ErrProviderUnavailable):
			s.logger.Error("embedding provider unavailable", zap.Error(err))
			s.respondError(w, http.StatusServiceUnavailable, err.Error())
		default:
			s.logger.Error("compare failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	pricedPath, err := s.writePricedCopy(req, wfData, out.SessionID, out.Results)
	if err != nil {
		s.logger.Error("writing priced copy failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, models.CompareResponse{
		SessionID:      out.SessionID.String(),
		Summary:        out.Summary,
		PricedFilePath: pricedPath,
		QueryTime:      out.Elapsed.Milliseconds(),
	})
}

// loadStoredFile resolves an upload ID to the stored workbook's bytes.
func (s *Server) loadStoredFile(r *http.Request, rawID string) ([]byte, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, files.ErrFileNotFound
	}
	path, err := s.files.Locate(r.Context(), id)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (s *Server) respondFileError(w http.ResponseWriter, side string, err error) {
	if errors.Is(err, files.ErrFileNotFound) {
		s.respondError(w, http.StatusNotFound, side+": file not found")
		return
	}
	s.logger.Error("stored file read failed", zap.String("side", side), zap.Error(err))
	s.respondError(w, http.StatusInternalServerError, err.Error())
}

// writePricedCopy writes assigned prices into the working file and stores the
// result next to the uploads, named after the session.
func (s *Server) writePricedCopy(req models.CompareRequest, wfData []byte, sessionID uuid.UUID, results []match.Result) (string, error) {
	priced, err := extract.WritePrices(wfData, req.WorkingFile.Sheet,
		req.WorkingFile.PriceTargetColumn, req.WorkingFile.ReportColumn, results)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(s.config.Storage.UploadDir, "priced")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, sessionID.String()+".xlsx")
	if err := os.WriteFile(path, priced, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// sessionView is the API shape of a stored session; embeddings and the raw
// matrix stay internal.
type sessionView struct {
	SessionID string               `json:"session_id"`
	CreatedAt time.Time            `json:"created_at"`
	ExpiresAt time.Time            `json:"expires_at"`
	Summary   models.MatchSummary  `json:"summary"`
	Results   []match.Result       `json:"results"`
	WFItems   []sessionItemView    `json:"wf_items"`
	RefItems  []sessionCatalogView `json:"ref_items"`
}

type sessionItemView struct {
	RowIndex int    `json:"row_index"`
	RawText  string `json:"raw_text"`
}

type sessionCatalogView struct {
	RowIndex  int     `json:"row_index"`
	RawText   string  `json:"raw_text"`
	UnitPrice float64 `json:"unit_price"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			s.respondError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("session load failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	view := sessionView{
		SessionID: sess.ID.String(),
		CreatedAt: sess.CreatedAt,
		ExpiresAt: sess.ExpiresAt,
		Results:   sess.Results,
	}
	for _, item := range sess.WFItems {
		view.WFItems = append(view.WFItems, sessionItemView{RowIndex: item.RowIndex, RawText: item.RawText})
	}
	for _, entry := range sess.RefItems {
		view.RefItems = append(view.RefItems, sessionCatalogView{
			RowIndex: entry.RowIndex, RawText: entry.RawText, UnitPrice: entry.UnitPrice,
		})
	}
	view.Summary = models.MatchSummary{Total: len(sess.Results)}
	for _, res := range sess.Results {
		switch res.Status {
		case match.StatusMatched:
			view.Summary.Matched++
		case match.StatusAmbiguous:
			view.Summary.Ambiguous++
		default:
			view.Summary.Unmatched++
		}
	}
	s.respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	s.logger.Debug("delete session request", zap.String("id", id.String()))
	if err := s.sessions.Expire(r.Context(), id); err != nil {
		s.logger.Error("session delete failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "expired"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := map[string]interface{}{
		"config": map[string]interface{}{
			"embedding_dimensions": s.config.Embedding.Dimensions,
			"threshold":            s.config.Matching.Threshold,
			"tie_epsilon":          s.config.Matching.TieEpsilon,
			"session_ttl":          s.config.Matching.SessionTTL.Std().String(),
			"database_path":        s.config.Storage.DatabasePath,
		},
	}
	for kind, key := range map[files.Kind]string{files.KindWorking: "working_files", files.KindReference: "reference_files"} {
		list, err := s.files.List(ctx, kind)
		if err != nil {
			s.logger.Error("status: file list failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp[key] = len(list)
	}
	if counter, ok := s.sessions.(sessionCounter); ok {
		n, err := counter.CountSessions(ctx)
		if err == nil {
			resp["sessions"] = n
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// sessionCounter is satisfied by stores that can report live session counts.
type sessionCounter interface {
	CountSessions(ctx context.Context) (int64, error)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": strings.TrimSpace(message)})
}
