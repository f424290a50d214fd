// Package api serves the local REST API used by the desktop frontend.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/kimhsiao/threemeal/backend/internal/db"
	apperrors "github.com/kimhsiao/threemeal/backend/internal/errors"
	"github.com/kimhsiao/threemeal/backend/internal/logging"
	"github.com/kimhsiao/threemeal/backend/internal/media"
	"github.com/kimhsiao/threemeal/backend/internal/realtime"
)

const (
	// maxUploadBytes bounds an image upload before compression.
	maxUploadBytes = 32 << 20
	maxThumbnail   = 1024
)

// Deps are the stores the API serves.
type Deps struct {
	Cards  db.FoodCardStore
	Meals  db.MealRecordStore
	Images *media.ImageStore
	Hub    *realtime.Hub
	Ping   func(ctx context.Context) error

	// Thumbnails, when set, pre-renders a ThumbWidth x ThumbHeight
	// thumbnail for every uploaded image.
	Thumbnails  *media.ThumbnailQueue
	ThumbWidth  int
	ThumbHeight int
}

// Server routes API requests.
type Server struct {
	deps Deps
	mux  *http.ServeMux
}

// NewServer creates a Server with all routes registered.
func NewServer(deps Deps) *Server {
	s := &Server{deps: deps, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /api/health", s.health)
	if deps.Hub != nil {
		s.mux.Handle("GET /ws", realtime.ServeWS(deps.Hub))
	}

	s.mux.HandleFunc("GET /api/food-cards", s.listFoodCards)
	s.mux.HandleFunc("POST /api/food-cards", s.createFoodCard)
	s.mux.HandleFunc("GET /api/food-cards/{id}", s.getFoodCard)
	s.mux.HandleFunc("PUT /api/food-cards/{id}", s.updateFoodCard)
	s.mux.HandleFunc("DELETE /api/food-cards/{id}", s.deleteFoodCard)

	s.mux.HandleFunc("GET /api/meals", s.listMeals)
	s.mux.HandleFunc("GET /api/meals/dates", s.listDates)
	s.mux.HandleFunc("PUT /api/meals/{date}/{mealType}", s.saveMeal)
	s.mux.HandleFunc("DELETE /api/meals/{id}", s.deleteMeal)

	if deps.Images != nil {
		s.mux.HandleFunc("POST /api/images", s.uploadImage)
		s.mux.HandleFunc("GET /api/images/{ref...}", s.getImage)
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// health handles GET /api/health
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if s.deps.Ping != nil {
		if err := s.deps.Ping(r.Context()); err != nil {
			status, code = "unavailable", http.StatusServiceUnavailable
		}
	}
	body := map[string]interface{}{"status": status, "service": "threemeal"}
	if s.deps.Hub != nil {
		body["clients"] = s.deps.Hub.ClientCount()
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("failed to write response", map[string]interface{}{"error": err.Error()})
	}
}

// statusOf maps an error code to an HTTP status.
func statusOf(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrValidation, apperrors.ErrInvalid, apperrors.ErrImageInvalid:
		return http.StatusBadRequest
	case apperrors.ErrConstraint:
		return http.StatusConflict
	case apperrors.ErrStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code >= 500 {
		logging.Error("request failed", err, map[string]interface{}{"method": r.Method, "path": r.URL.Path})
	}
	writeJSON(w, code, map[string]interface{}{
		"error": map[string]string{
			"code":    string(apperrors.CodeOf(err)),
			"message": err.Error(),
		},
	})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err)
	}
	return nil
}
