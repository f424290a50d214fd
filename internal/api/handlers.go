package api

import (
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/kimhsiao/threemeal/backend/internal/errors"
	"github.com/kimhsiao/threemeal/backend/internal/logging"
	"github.com/kimhsiao/threemeal/backend/internal/models"
)

// =====================================================
// Food Cards
// =====================================================

// foodCardRequest is the writable part of a food card.
type foodCardRequest struct {
	Name     string  `json:"name"`
	ImageRef string  `json:"image_ref"`
	Price    float64 `json:"price"`
	Type     string  `json:"type"`
	Note     string  `json:"note"`
	Location string  `json:"location"`
}

func (req foodCardRequest) card() (*models.FoodCard, error) {
	t, err := models.ParseFoodType(req.Type)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "invalid food type", err)
	}
	return &models.FoodCard{
		Name:     req.Name,
		ImageRef: req.ImageRef,
		Price:    req.Price,
		Type:     t,
		Note:     req.Note,
		Location: req.Location,
	}, nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.Newf(apperrors.ErrInvalid, "invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

// listFoodCards handles GET /api/food-cards?type=&q=
func (s *Server) listFoodCards(w http.ResponseWriter, r *http.Request) {
	var (
		cards []*models.FoodCard
		err   error
	)
	q := r.URL.Query()
	switch {
	case q.Get("q") != "":
		cards, err = s.deps.Cards.Search(r.Context(), q.Get("q"))
	case q.Get("type") != "":
		var t models.FoodType
		if t, err = models.ParseFoodType(q.Get("type")); err != nil {
			err = apperrors.Wrap(apperrors.ErrValidation, "invalid food type", err)
			break
		}
		cards, err = s.deps.Cards.ListByType(r.Context(), t)
	default:
		cards, err = s.deps.Cards.ListAll(r.Context())
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if cards == nil {
		cards = []*models.FoodCard{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": cards, "total": len(cards)})
}

// getFoodCard handles GET /api/food-cards/{id}
func (s *Server) getFoodCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.deps.Cards.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// createFoodCard handles POST /api/food-cards
func (s *Server) createFoodCard(w http.ResponseWriter, r *http.Request) {
	var req foodCardRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := req.card()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := s.deps.Cards.Insert(r.Context(), c); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// updateFoodCard handles PUT /api/food-cards/{id}
func (s *Server) updateFoodCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req foodCardRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := req.card()
	if err != nil {
		writeError(w, r, err)
		return
	}
	c.ID = id
	if err := s.deps.Cards.Update(r.Context(), c); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// deleteFoodCard handles DELETE /api/food-cards/{id}
func (s *Server) deleteFoodCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := s.deps.Cards.DeleteByIDs(r.Context(), []int64{id})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if n == 0 {
		writeError(w, r, apperrors.Newf(apperrors.ErrNotFound, "food card %d not found", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =====================================================
// Meal Records
// =====================================================

// listMeals handles GET /api/meals?date= or ?from=&to=
func (s *Server) listMeals(w http.ResponseWriter, r *http.Request) {
	var (
		meals []*models.MealRecord
		err   error
	)
	q := r.URL.Query()
	switch {
	case q.Get("date") != "":
		meals, err = s.deps.Meals.ListByDate(r.Context(), models.Date(q.Get("date")))
	case q.Get("from") != "" || q.Get("to") != "":
		meals, err = s.deps.Meals.ListByDateRange(r.Context(), models.Date(q.Get("from")), models.Date(q.Get("to")))
	default:
		meals, err = s.deps.Meals.ListAll(r.Context())
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if q.Get("order") == "day" {
		models.SortByDayOrder(meals)
	}
	if meals == nil {
		meals = []*models.MealRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": meals, "total": len(meals)})
}

// listDates handles GET /api/meals/dates?month=YYYY-MM
func (s *Server) listDates(w http.ResponseWriter, r *http.Request) {
	var (
		dates []models.Date
		err   error
	)
	if m := r.URL.Query().Get("month"); m != "" {
		var t time.Time
		if t, err = time.Parse("2006-01", m); err != nil {
			writeError(w, r, apperrors.Wrap(apperrors.ErrValidation, "invalid month", err))
			return
		}
		dates, err = s.deps.Meals.ListDatesInMonth(r.Context(), t.Year(), t.Month())
	} else {
		dates, err = s.deps.Meals.ListDates(r.Context())
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if dates == nil {
		dates = []models.Date{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"dates": dates})
}

// mealRequest is the writable part of a meal record.
type mealRequest struct {
	FoodCardIDs []int64 `json:"food_card_ids"`
	Mood        string  `json:"mood"`
	Note        string  `json:"note"`
}

// saveMeal handles PUT /api/meals/{date}/{mealType}. The slot's current
// record, if any, is overwritten.
func (s *Server) saveMeal(w http.ResponseWriter, r *http.Request) {
	mt, err := models.ParseMealType(r.PathValue("mealType"))
	if err != nil {
		writeError(w, r, apperrors.Wrap(apperrors.ErrValidation, "invalid meal type", err))
		return
	}
	var req mealRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	mood, err := models.ParseMood(req.Mood)
	if err != nil {
		writeError(w, r, apperrors.Wrap(apperrors.ErrValidation, "invalid mood", err))
		return
	}

	rec := &models.MealRecord{
		Date:        models.Date(r.PathValue("date")),
		MealType:    mt,
		FoodCardIDs: models.FoodCardIDs(req.FoodCardIDs),
		Mood:        mood,
		Note:        req.Note,
	}
	if _, err := s.deps.Meals.SaveForSlot(r.Context(), rec); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// deleteMeal handles DELETE /api/meals/{id}
func (s *Server) deleteMeal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Meals.Delete(r.Context(), &models.MealRecord{ID: id}); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =====================================================
// Images
// =====================================================

// uploadImage handles POST /api/images with the raw image as the body.
func (s *Server) uploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	ref, err := s.deps.Images.Import(r.Context(), r.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if q := s.deps.Thumbnails; q != nil && s.deps.ThumbWidth > 0 && s.deps.ThumbHeight > 0 {
		if _, err := q.Enqueue(ref, s.deps.ThumbWidth, s.deps.ThumbHeight, nil); err != nil {
			logging.Debug("thumbnail not queued", map[string]interface{}{"ref": ref, "error": err.Error()})
		}
	}
	writeJSON(w, http.StatusCreated, map[string]string{"image_ref": ref})
}

// getImage handles GET /api/images/{ref...}?w=&h=. With both w and h a
// cached thumbnail is served.
func (s *Server) getImage(w http.ResponseWriter, r *http.Request) {
	ref := "images/" + r.PathValue("ref")
	path, err := s.deps.Images.Path(ref)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !s.deps.Images.Exists(ref) {
		writeError(w, r, apperrors.Newf(apperrors.ErrNotFound, "image %s not found", ref))
		return
	}

	width, _ := strconv.Atoi(r.URL.Query().Get("w"))
	height, _ := strconv.Atoi(r.URL.Query().Get("h"))
	if width > maxThumbnail || height > maxThumbnail {
		writeError(w, r, apperrors.Newf(apperrors.ErrInvalid, "thumbnail larger than %d", maxThumbnail))
		return
	}
	if width > 0 && height > 0 {
		if q := s.deps.Thumbnails; q != nil {
			path, err = q.GenerateSync(r.Context(), ref, width, height)
		} else {
			path, err = s.deps.Images.Thumbnail(r.Context(), ref, width, height)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeFile(w, r, path)
}
