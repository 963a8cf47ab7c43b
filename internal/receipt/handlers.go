package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// maxUploadSize bounds multipart parsing; scanned receipts from phones can be large
const maxUploadSize = int64(50 << 20) // 50MB

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError maps a pipeline error onto its HTTP status and writes an
// {"error": ...} payload
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, ErrInvalidUpload):
		status = http.StatusBadRequest
	case errors.Is(err, ErrExtraction):
		status = http.StatusBadGateway
	case errors.Is(err, ErrStorage):
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleUpload accepts a multipart PDF upload and registers it, unvalidated
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "error parsing form"})
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no file provided"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading upload", "error", err, "file_name", header.Filename)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "error reading file"})
		return
	}

	file, err := s.service.Upload(header.Filename, data)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"file_id": file.ID})
}

// handleValidate re-evaluates a file's bytes and returns the stored verdict
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file id required"})
		return
	}

	file, err := s.service.Validate(id)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := struct {
		IsValid bool   `json:"is_valid"`
		Reason  string `json:"reason,omitempty"`
	}{
		IsValid: file.Validity == ValidityValid,
		Reason:  file.InvalidReason,
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleProcess runs extraction for a file and returns the created receipt
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file id required"})
		return
	}

	receipt, err := s.service.Process(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, receipt)
}

// handleListFiles returns all registry entries in upload order
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.service.ListFiles()
	if err != nil {
		slog.Error("Error listing files", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

// handleListReceipts returns all receipts in processing order
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.ListReceipts()
	if err != nil {
		slog.Error("Error listing receipts", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "receipt id required"})
		return
	}

	receipt, err := s.service.GetReceipt(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}
