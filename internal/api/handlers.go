package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"secret.share/config"
	"secret.share/internal/logging"
	"secret.share/internal/models"
	"secret.share/internal/services"
	"secret.share/internal/store"
	"secret.share/web"
)

// bodyOverhead leaves room for JSON escaping and the non-content fields.
const bodyOverhead = 16 * 1024

type Handler struct {
	secrets  *services.SecretService
	accounts *services.AccountService
	store    store.Store
	config   *config.Config
	log      logging.Logger
}

func NewHandler(secrets *services.SecretService, accounts *services.AccountService, st store.Store, cfg *config.Config, log logging.Logger) *Handler {
	if log == nil {
		log = logging.Nop()
	}
	return &Handler{
		secrets:  secrets,
		accounts: accounts,
		store:    st,
		config:   cfg,
		log:      log,
	}
}

type CreateRequest struct {
	Title           string     `json:"title"`
	Content         string     `json:"content"`
	Password        string     `json:"password,omitempty"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	IsOneTimeAccess bool       `json:"isOneTimeAccess"`
}

type CreateResponse struct {
	models.SecretCreated
	URL string `json:"url"`
}

type RevealRequest struct {
	Password string `json:"password,omitempty"`
}

type UpdateRequest struct {
	Title          *string    `json:"title,omitempty"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	ClearExpiresAt bool       `json:"clearExpiresAt,omitempty"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.log.Error(r.Context(), "health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "store": h.config.Store.Type})
}

func (h *Handler) CreateSecret(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	created, err := h.secrets.Create(r.Context(), CallerFrom(r.Context()), services.CreateSecretInput{
		Title:           req.Title,
		Content:         req.Content,
		Password:        req.Password,
		ExpiresAt:       req.ExpiresAt,
		IsOneTimeAccess: req.IsOneTimeAccess,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateResponse{
		SecretCreated: *created,
		URL:           h.config.Server.BaseURL + "/s/" + created.Slug,
	})
}

func (h *Handler) CheckRequirements(w http.ResponseWriter, r *http.Request) {
	req, err := h.secrets.CheckRequirements(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) RevealSecret(w http.ResponseWriter, r *http.Request) {
	var req RevealRequest
	if !h.decode(w, r, &req, true) {
		return
	}

	w.Header().Set("Cache-Control", "no-store")

	secret, err := h.secrets.Disclose(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "slug"), req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, secret)
}

func (h *Handler) ListSecrets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))

	result, err := h.secrets.List(r.Context(), CallerFrom(r.Context()), services.ListSecretsInput{
		Page:     page,
		PageSize: pageSize,
		Search:   q.Get("search"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) UpdateSecret(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	updated, err := h.secrets.Update(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "id"), services.UpdateSecretInput{
		Title:          req.Title,
		ExpiresAt:      req.ExpiresAt,
		ClearExpiresAt: req.ClearExpiresAt,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) DeleteSecret(w http.ResponseWriter, r *http.Request) {
	if err := h.secrets.Delete(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	res, err := h.accounts.Register(r.Context(), CallerFrom(r.Context()), services.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	res, err := h.accounts.Login(r.Context(), CallerFrom(r.Context()), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	me, err := h.accounts.Me(r.Context(), CallerFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, me)
}

func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.DeleteAccount(r.Context(), CallerFrom(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	h.serveFile(w, "index.html")
}

func (h *Handler) RevealPage(w http.ResponseWriter, r *http.Request) {
	h.serveFile(w, "reveal.html")
}

func (h *Handler) serveFile(w http.ResponseWriter, filename string) {
	content, err := web.GetFile(filename)
	if err != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	// The reveal page URL carries the slug.
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(content)
}

// decode reads a JSON body capped at the content limit plus overhead. With
// optional set, an empty body leaves v untouched.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	limit := int64(h.config.Secrets.MaxContentBytes) + bodyOverhead
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))

	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "BAD_REQUEST")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return false
	}
	return true
}
