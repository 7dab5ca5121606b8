package casino

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/casinoscope/casinoscopecom/internal/middleware"
	"github.com/casinoscope/casinoscopecom/internal/telemetry/tracing"
	"github.com/casinoscope/casinoscopecom/pkg"
)

const (
	pinHeader       = "X-CSPE-PIN"
	defaultPageSize = 20
	maxPageSize     = 100
)

type pinVerifier interface {
	VerifyPin(ctx context.Context, pin, token, clientIp string) bool
}

type DeleteCasinoResponse struct {
	DeletedID int `json:"deletedId"`
}

type UpdateCasinoResponse struct {
	UpdatedID int `json:"updatedId"`
}

type Handler struct {
	repo        repo
	cache       *ListingCache
	pinVerifier pinVerifier
}

// NewHandler makes the casino handler, cache can be nil to serve straight
// from the repo
func NewHandler(repo repo, cache *ListingCache, pinVerifier pinVerifier) *Handler {
	return &Handler{
		repo:        repo,
		cache:       cache,
		pinVerifier: pinVerifier,
	}
}

func listParamsFromRequest(r *http.Request) (ListParams, error) {
	params := ListParams{
		Page: 1,
		Size: defaultPageSize,
	}

	query := r.URL.Query()
	if pageStr := query.Get("page"); pageStr != "" {
		page, err := strconv.Atoi(pageStr)
		if err != nil || page < 1 {
			return params, errors.New("invalid page")
		}
		params.Page = page
	}
	if sizeStr := query.Get("size"); sizeStr != "" {
		size, err := strconv.Atoi(sizeStr)
		if err != nil || size < 1 || size > maxPageSize {
			return params, errors.New("invalid size")
		}
		params.Size = size
	}
	if ratingStr := query.Get("minRating"); ratingStr != "" {
		minRating, err := strconv.ParseFloat(ratingStr, 64)
		if err != nil || minRating < 0 || minRating > 5 {
			return params, errors.New("invalid minRating")
		}
		params.MinRating = minRating
	}
	params.Query = query.Get("q")
	params.FeaturedOnly = query.Get("featured") == "true"

	return params, nil
}

// HandleList is the public listing and search endpoint
func (handler *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	handler.handleList(w, r, false)
}

// HandleAdminList also includes unpublished reviews
func (handler *Handler) HandleAdminList(w http.ResponseWriter, r *http.Request) {
	handler.handleList(w, r, true)
}

func (handler *Handler) handleList(w http.ResponseWriter, r *http.Request, includeUnpublished bool) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.casino.list")
	defer span.End()

	params, err := listParamsFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	params.IncludeUnpublished = includeUnpublished

	// admin pages bypass the cache, they must see fresh data
	if handler.cache != nil && !includeUnpublished {
		if cached := handler.cache.Get(params); cached != nil {
			writeListResponse(w, cached)
			return
		}
	}

	casinos, total, err := handler.repo.List(ctx, params)
	if err != nil {
		log.Errorf("list casinos: %s", err)
		http.Error(w, "error, failed to list casinos", http.StatusInternalServerError)
		return
	}

	listResponse := &ListResponse{
		Casinos: casinos,
		Total:   total,
		Page:    params.Page,
		Size:    params.Size,
	}
	if handler.cache != nil && !includeUnpublished {
		handler.cache.Set(params, listResponse)
	}

	writeListResponse(w, listResponse)
}

func (handler *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.casino.get")
	defer span.End()

	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "error, id invalid", http.StatusBadRequest)
		return
	}

	c, err := handler.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrCasinoNotFound) {
			http.Error(w, "casino not found", http.StatusNotFound)
			return
		}
		log.Errorf("get casino %d: %s", id, err)
		http.Error(w, "error, failed to get casino", http.StatusInternalServerError)
		return
	}

	// unpublished reviews are visible to signed-in admins only
	if !c.Published && middleware.AdminFromRequest(r) == nil {
		http.Error(w, "casino not found", http.StatusNotFound)
		return
	}

	casinoJson, err := json.Marshal(c)
	if err != nil {
		http.Error(w, "marshal casino error", http.StatusInternalServerError)
		return
	}
	pkg.WriteJSONResponseOK(w, string(casinoJson))
}

func (handler *Handler) HandleBonuses(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.casino.bonuses")
	defer span.End()

	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "error, id invalid", http.StatusBadRequest)
		return
	}

	bonuses, err := handler.repo.Bonuses(ctx, id)
	if err != nil {
		log.Errorf("get bonuses for casino %d: %s", id, err)
		http.Error(w, "error, failed to get bonuses", http.StatusInternalServerError)
		return
	}
	if bonuses == nil {
		bonuses = []Bonus{}
	}

	bonusesJson, err := json.Marshal(bonuses)
	if err != nil {
		http.Error(w, "marshal bonuses error", http.StatusInternalServerError)
		return
	}
	pkg.WriteJSONResponseOK(w, string(bonusesJson))
}

func (handler *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.casino.add")
	defer span.End()

	if r.Header.Get("Content-Type") != "application/json" {
		http.Error(w, "invalid content type", http.StatusBadRequest)
		return
	}

	var c Casino
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		log.Tracef("new casino, unmarshal json params: %s", err)
		http.Error(w, "add casino failed", http.StatusBadRequest)
		return
	}

	if c.Name == "" || c.Slug == "" {
		http.Error(w, "error, name or slug empty", http.StatusBadRequest)
		return
	}
	if c.Rating < 0 || c.Rating > 5 {
		http.Error(w, "error, rating out of range", http.StatusBadRequest)
		return
	}

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	addedCasino, err := handler.repo.Add(ctx, c)
	if err != nil {
		log.Errorf("failed to add new casino [%s]: %s", c.Name, err)
		if pkg.IsUniqueViolationError(err) {
			http.Error(w, "error, casino slug already exists", http.StatusConflict)
			return
		}
		http.Error(w, "error, failed to add new casino", http.StatusInternalServerError)
		return
	}

	handler.invalidateListings()

	log.Debugf("new casino added: [%s]: %d", addedCasino.Name, addedCasino.ID)

	casinoJson, err := json.Marshal(addedCasino)
	if err != nil {
		http.Error(w, "marshal casino error", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, casinoJson, http.StatusCreated)
}

func (handler *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.casino.update")
	defer span.End()

	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "error, id invalid", http.StatusBadRequest)
		return
	}

	var c Casino
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		log.Tracef("update casino, unmarshal json params: %s", err)
		http.Error(w, "update casino failed", http.StatusBadRequest)
		return
	}
	c.ID = id

	if c.Name == "" || c.Slug == "" {
		http.Error(w, "error, name or slug empty", http.StatusBadRequest)
		return
	}

	if err := handler.repo.Update(ctx, &c); err != nil {
		if errors.Is(err, ErrCasinoNotFound) {
			http.Error(w, "casino not found", http.StatusNotFound)
			return
		}
		log.Errorf("failed to update casino %d: %s", id, err)
		http.Error(w, "error, failed to update casino", http.StatusInternalServerError)
		return
	}

	handler.invalidateListings()

	respJson, err := json.Marshal(UpdateCasinoResponse{UpdatedID: id})
	if err != nil {
		http.Error(w, "marshal response error", http.StatusInternalServerError)
		return
	}
	pkg.WriteJSONResponseOK(w, string(respJson))
}

// HandleDelete removes a review for good, so it requires the pin step-up
// on top of a valid admin session
func (handler *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.casino.delete")
	defer span.End()

	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "error, id invalid", http.StatusBadRequest)
		return
	}

	if !handler.verifyPin(ctx, r) {
		http.Error(w, "pin verification failed", http.StatusForbidden)
		return
	}

	if err := handler.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrCasinoNotFound) {
			http.Error(w, "casino not found", http.StatusNotFound)
			return
		}
		log.Errorf("failed to delete casino %d: %s", id, err)
		http.Error(w, "error, failed to delete casino", http.StatusInternalServerError)
		return
	}

	handler.invalidateListings()

	respJson, err := json.Marshal(DeleteCasinoResponse{DeletedID: id})
	if err != nil {
		http.Error(w, "marshal response error", http.StatusInternalServerError)
		return
	}
	pkg.WriteJSONResponseOK(w, string(respJson))
}

func (handler *Handler) HandleAddBonus(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.casino.addBonus")
	defer span.End()

	casinoID, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "error, id invalid", http.StatusBadRequest)
		return
	}

	var b Bonus
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		log.Tracef("new bonus, unmarshal json params: %s", err)
		http.Error(w, "add bonus failed", http.StatusBadRequest)
		return
	}
	b.CasinoID = casinoID

	if b.Title == "" || b.BonusType == "" {
		http.Error(w, "error, bonus title or type empty", http.StatusBadRequest)
		return
	}

	// the parent review must exist
	if _, err := handler.repo.Get(ctx, casinoID); err != nil {
		if errors.Is(err, ErrCasinoNotFound) {
			http.Error(w, "casino not found", http.StatusNotFound)
			return
		}
		log.Errorf("add bonus, failed to get casino %d: %s", casinoID, err)
		http.Error(w, "error, failed to add bonus", http.StatusInternalServerError)
		return
	}

	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}

	addedBonus, err := handler.repo.AddBonus(ctx, b)
	if err != nil {
		// casino removed between the existence check and the insert
		if pkg.IsForeignKeyViolationError(err) {
			http.Error(w, "casino not found", http.StatusNotFound)
			return
		}
		log.Errorf("failed to add bonus for casino %d: %s", casinoID, err)
		http.Error(w, "error, failed to add bonus", http.StatusInternalServerError)
		return
	}

	bonusJson, err := json.Marshal(addedBonus)
	if err != nil {
		http.Error(w, "marshal bonus error", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, bonusJson, http.StatusCreated)
}

func (handler *Handler) HandleDeleteBonus(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.casino.deleteBonus")
	defer span.End()

	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "error, id invalid", http.StatusBadRequest)
		return
	}

	if !handler.verifyPin(ctx, r) {
		http.Error(w, "pin verification failed", http.StatusForbidden)
		return
	}

	if err := handler.repo.DeleteBonus(ctx, id); err != nil {
		if errors.Is(err, ErrBonusNotFound) {
			http.Error(w, "bonus not found", http.StatusNotFound)
			return
		}
		log.Errorf("failed to delete bonus %d: %s", id, err)
		http.Error(w, "error, failed to delete bonus", http.StatusInternalServerError)
		return
	}

	pkg.WriteTextResponseOK(w, fmt.Sprintf("deleted:%d", id))
}

func (handler *Handler) verifyPin(ctx context.Context, r *http.Request) bool {
	pin := r.Header.Get(pinHeader)
	if pin == "" {
		return false
	}
	clientIp, _ := pkg.ReadUserIP(r)
	return handler.pinVerifier.VerifyPin(ctx, pin, middleware.ReadAuthToken(r), clientIp)
}

func (handler *Handler) invalidateListings() {
	if handler.cache != nil {
		handler.cache.InvalidateAll()
	}
}

func writeListResponse(w http.ResponseWriter, listResponse *ListResponse) {
	if listResponse.Casinos == nil {
		listResponse.Casinos = []Casino{}
	}
	respJson, err := json.Marshal(listResponse)
	if err != nil {
		http.Error(w, "marshal response error", http.StatusInternalServerError)
		return
	}
	pkg.WriteJSONResponseOK(w, string(respJson))
}
