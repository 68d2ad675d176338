package orchestrator

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the Service over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a feed handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes returns a router serving GET /{collection}/{format}.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{collection}/{format}", h.ServeFeed)
	return r
}

// ServeFeed handles a single feed request.
func (h *Handler) ServeFeed(w http.ResponseWriter, r *http.Request) {
	param, value := CacheBust(r.URL.Query())

	res := h.svc.Serve(r.Context(), Request{
		Collection:     chi.URLParam(r, "collection"),
		Format:         chi.URLParam(r, "format"),
		IfNoneMatch:    r.Header.Get("If-None-Match"),
		CacheBustParam: param,
		CacheBustValue: value,
	})

	res.Send(w)
}

// Send writes the result as an HTTP response.
func (r *Result) Send(w http.ResponseWriter) {
	for k, vs := range r.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(r.Status)
	if r.Status == http.StatusNotModified || r.Body == "" {
		return
	}
	_, _ = w.Write([]byte(r.Body))
}
