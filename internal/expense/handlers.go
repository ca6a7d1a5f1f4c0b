package expense

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// writeJSON writes v as a JSON response with the given status
func writeJSON(w http.ResponseWriter, v any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, map[string]string{"error": message}, code)
}

// writeServiceError maps service errors onto status codes
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		writeError(w, "Expense not found", http.StatusNotFound)
	default:
		writeError(w, "Server error", http.StatusInternalServerError)
	}
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"message": "Server is working!"}, http.StatusOK)
}

// handleListExpenses returns all expenses
func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.service.ListExpenses(r.Context())
	if err != nil {
		slog.Error("Error listing expenses", "error", err)
		writeServiceError(w, err)
		return
	}
	if expenses == nil {
		expenses = []*Expense{}
	}
	writeJSON(w, expenses, http.StatusOK)
}

// handleGetExpense returns a single expense
func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	expense, err := s.service.GetExpense(r.Context(), r.PathValue("id"))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Error("Error getting expense", "id", r.PathValue("id"), "error", err)
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, expense, http.StatusOK)
}

// handleCreateExpense saves a manually entered expense
func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var in Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	expense, err := s.service.CreateExpense(r.Context(), in)
	if err != nil {
		slog.Error("Error creating expense", "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, expense, http.StatusCreated)
}

// handleUpdateExpense replaces an expense's fields
func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	var in Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	expense, err := s.service.UpdateExpense(r.Context(), r.PathValue("id"), in)
	if err != nil {
		slog.Error("Error updating expense", "id", r.PathValue("id"), "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]any{"message": "Expense updated", "expense": expense}, http.StatusOK)
}

// handleDeleteExpense deletes an expense and echoes it back
func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	expense, err := s.service.DeleteExpense(r.Context(), r.PathValue("id"))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Error("Error deleting expense", "id", r.PathValue("id"), "error", err)
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]any{"message": "Expense deleted", "expense": expense}, http.StatusOK)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.Summarize(r.Context())
	if err != nil {
		slog.Error("Error summarizing expenses", "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, summary, http.StatusOK)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.ExportXLSX(r.Context())
	if err != nil {
		slog.Error("Error exporting expenses", "error", err)
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="expenses.xlsx"`)
	w.Write(data)
}
