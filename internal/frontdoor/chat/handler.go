// Package chat serves the public chat and document-analysis endpoints.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sapphir-health/sapphir-gateway/internal/domain"
	"github.com/sapphir-health/sapphir-gateway/internal/server"
)

// DefaultMaxUploadBytes bounds multipart uploads when no limit is configured.
const DefaultMaxUploadBytes = 10 << 20

const (
	msgLiveness      = "API do DeepSeek rodando!"
	msgInvalidBody   = "Requisição inválida."
	msgMissingFile   = "Nenhum arquivo enviado."
	msgFileTooLarge  = "Arquivo muito grande."
	msgInternalError = "Erro interno do servidor."
)

// Service is the gateway surface the handlers need.
type Service interface {
	Turn(ctx context.Context, key, text string) (string, error)
	AnalyzeDocument(ctx context.Context, data []byte, filename string) (string, error)
}

type Handler struct {
	svc            Service
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewHandler creates a handler. A non-positive maxUploadBytes uses
// DefaultMaxUploadBytes.
func NewHandler(svc Service, maxUploadBytes int64, logger *slog.Logger) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, maxUploadBytes: maxUploadBytes, logger: logger}
}

// Mount registers the public routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/", h.HandleHome)
	r.Get("/healthz", h.HandleHealth)
	r.Post("/chat", h.HandleChat)
	r.Post("/upload", h.HandleUpload)
	r.Post("/analisar-exame", h.HandleUpload)
}

type ChatRequest struct {
	Message string `json:"message"`
	UserID  string `json:"user_id,omitempty"`
}

type ChatResponse struct {
	Response string `json:"response"`
}

type UploadResponse struct {
	Laudo string `json:"laudo"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) HandleHome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": msgLiveness})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.AddError(r.Context(), err)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msgInvalidBody})
		return
	}

	reply, err := h.svc.Turn(r.Context(), req.UserID, req.Message)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{Response: reply})
}

// HandleUpload serves both /upload and /analisar-exame.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		server.AddError(r.Context(), err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: msgFileTooLarge})
			return
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msgMissingFile})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		server.AddError(r.Context(), err)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msgMissingFile})
		return
	}
	if len(data) == 0 || header.Filename == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msgMissingFile})
		return
	}
	server.AddLogField(r.Context(), "filename", header.Filename)

	report, err := h.svc.AnalyzeDocument(r.Context(), data, header.Filename)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{Laudo: report})
}

// writeError renders err as {"error": ...}. Gateway errors carry their own
// message and status; anything else is an opaque 500.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if gwErr, ok := domain.AsError(err); ok {
		writeJSON(w, gwErr.HTTPStatusCode(), ErrorResponse{Error: gwErr.Message})
		return
	}
	h.logger.Error("unhandled gateway error", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: msgInternalError})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
