package expense

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/expense-tracker/internal/extract"
	"github.com/zombor/expense-tracker/internal/review"
)

// Phone photos run large
const maxUploadSize = int64(50 << 20)

// handleSubmitScan accepts a receipt image and starts recognition
func (s *Server) handleSubmitScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+1<<20)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		writeError(w, errorMsg, http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		errorMsg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No file was selected. Please choose a receipt image to scan."
		}
		writeError(w, errorMsg, http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	contentType := uploadContentType(header.Header.Get("Content-Type"), header.Filename)

	if _, err := s.scans.Submit(data, contentType); err != nil {
		switch {
		case errors.Is(err, review.ErrImageTypeRejected):
			writeError(w, "Please upload an image file", http.StatusUnsupportedMediaType)
		case errors.Is(err, review.ErrScanInProgress), errors.Is(err, review.ErrReviewPending):
			writeError(w, err.Error(), http.StatusConflict)
		default:
			slog.Error("Error starting scan", "filename", header.Filename, "error", err)
			writeError(w, "Server error", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, s.scans.Snapshot(), http.StatusAccepted)
}

// uploadContentType trusts the declared type, falling back to the file extension
func uploadContentType(declared, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(declared))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.scans.Snapshot(), http.StatusOK)
}

func (s *Server) handleScanText(w http.ResponseWriter, r *http.Request) {
	text, err := s.scans.RawText()
	if err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, map[string]string{"text": text}, http.StatusOK)
}

// handleEditDraft applies operator corrections to the draft under review
func (s *Server) handleEditDraft(w http.ResponseWriter, r *http.Request) {
	var edit review.DraftEdit
	if err := json.NewDecoder(r.Body).Decode(&edit); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	draft, err := s.scans.Edit(edit)
	if err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, draft, http.StatusOK)
}

// handleConfirmScan saves the reviewed draft as an expense
func (s *Server) handleConfirmScan(w http.ResponseWriter, r *http.Request) {
	var created *Expense
	err := s.scans.Confirm(func(d extract.Draft) error {
		expense, err := s.service.CreateExpense(r.Context(), InputFromDraft(d))
		if err != nil {
			return err
		}
		created = expense
		return nil
	})
	if err != nil {
		if errors.Is(err, review.ErrNoDraft) {
			writeError(w, err.Error(), http.StatusConflict)
			return
		}
		slog.Error("Error confirming scan", "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, created, http.StatusCreated)
}

func (s *Server) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	if err := s.scans.Cancel(); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, s.scans.Snapshot(), http.StatusOK)
}
