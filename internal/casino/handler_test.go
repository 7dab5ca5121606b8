package casino

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type pinVerifierMock struct {
	validPin string
}

func (m *pinVerifierMock) VerifyPin(_ context.Context, pin, _, _ string) bool {
	return pin == m.validPin
}

func newTestHandler(t *testing.T, cache *ListingCache) (*Handler, *repoMock, *mux.Router) {
	t.Helper()

	repo := newRepoMock()
	handler := NewHandler(repo, cache, &pinVerifierMock{validPin: "428913"})

	r := mux.NewRouter()
	r.HandleFunc("/casinos", handler.HandleList).Methods("GET")
	r.HandleFunc("/casinos/{id}", handler.HandleGet).Methods("GET")
	r.HandleFunc("/casinos/{id}/bonuses", handler.HandleBonuses).Methods("GET")
	r.HandleFunc("/admin/casinos", handler.HandleAdminList).Methods("GET")
	r.HandleFunc("/admin/casinos", handler.HandleAdd).Methods("POST")
	r.HandleFunc("/admin/casinos/{id}", handler.HandleUpdate).Methods("PUT")
	r.HandleFunc("/admin/casinos/{id}", handler.HandleDelete).Methods("DELETE")
	r.HandleFunc("/admin/casinos/{id}/bonuses", handler.HandleAddBonus).Methods("POST")
	r.HandleFunc("/admin/bonuses/{id}", handler.HandleDeleteBonus).Methods("DELETE")

	return handler, repo, r
}

func testCasino(name string, rating float64, published, featured bool) Casino {
	return Casino{
		Name:        name,
		Slug:        gofakeit.Username(),
		Website:     gofakeit.URL(),
		License:     "MGA/B2C/394/2017",
		Rating:      rating,
		Description: gofakeit.Sentence(10),
		Pros:        []string{"fast withdrawals", "live chat"},
		Cons:        []string{"no phone support"},
		Published:   published,
		Featured:    featured,
		CreatedAt:   time.Now(),
	}
}

func seedCasinos(t *testing.T, repo *repoMock) (published, unpublished *Casino) {
	t.Helper()
	ctx := context.Background()

	published, err := repo.Add(ctx, testCasino("Royal Flamingo", 4.5, true, true))
	require.NoError(t, err)
	_, err = repo.Add(ctx, testCasino("Lucky Dice", 3.2, true, false))
	require.NoError(t, err)
	unpublished, err = repo.Add(ctx, testCasino("Draft Palace", 4.9, false, false))
	require.NoError(t, err)
	return published, unpublished
}

func getListResponse(t *testing.T, router *mux.Router, url string) *ListResponse {
	t.Helper()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", url, nil))
	require.Equal(t, http.StatusOK, rr.Code)

	listResponse := &ListResponse{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), listResponse))
	return listResponse
}

func TestHandler_List(t *testing.T) {
	_, repo, router := newTestHandler(t, nil)
	seedCasinos(t, repo)

	// public listing hides unpublished reviews
	listResponse := getListResponse(t, router, "/casinos")
	assert.Equal(t, 2, listResponse.Total)
	require.Len(t, listResponse.Casinos, 2)
	// featured first
	assert.Equal(t, "Royal Flamingo", listResponse.Casinos[0].Name)

	// search
	listResponse = getListResponse(t, router, "/casinos?q=lucky")
	require.Equal(t, 1, listResponse.Total)
	assert.Equal(t, "Lucky Dice", listResponse.Casinos[0].Name)

	// rating filter
	listResponse = getListResponse(t, router, "/casinos?minRating=4")
	require.Equal(t, 1, listResponse.Total)
	assert.Equal(t, "Royal Flamingo", listResponse.Casinos[0].Name)

	// featured filter
	listResponse = getListResponse(t, router, "/casinos?featured=true")
	require.Equal(t, 1, listResponse.Total)

	// pagination
	listResponse = getListResponse(t, router, "/casinos?page=2&size=1")
	assert.Equal(t, 2, listResponse.Total)
	require.Len(t, listResponse.Casinos, 1)
	assert.Equal(t, "Lucky Dice", listResponse.Casinos[0].Name)

	// admin listing sees everything
	listResponse = getListResponse(t, router, "/admin/casinos")
	assert.Equal(t, 3, listResponse.Total)

	// invalid params
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/casinos?page=0", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/casinos?size=9000", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandler_List_Cache(t *testing.T) {
	cache := NewListingCache()
	_, repo, router := newTestHandler(t, cache)
	seedCasinos(t, repo)

	listResponse := getListResponse(t, router, "/casinos")
	require.Equal(t, 2, listResponse.Total)

	// repo goes down, the cached page still serves
	repo.ListErr = assert.AnError
	listResponse = getListResponse(t, router, "/casinos")
	assert.Equal(t, 2, listResponse.Total)
	repo.ListErr = nil

	// a write invalidates the cache
	addBody, err := json.Marshal(testCasino("Neon Spin", 4.1, true, false))
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/admin/casinos", bytes.NewReader(addBody))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)

	listResponse = getListResponse(t, router, "/casinos")
	assert.Equal(t, 3, listResponse.Total)
}

func TestHandler_Get(t *testing.T) {
	_, repo, router := newTestHandler(t, nil)
	published, unpublished := seedCasinos(t, repo)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", fmt.Sprintf("/casinos/%d", published.ID), nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var c Casino
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &c))
	assert.Equal(t, published.Name, c.Name)
	assert.Equal(t, []string{"fast withdrawals", "live chat"}, c.Pros)
	assert.Equal(t, []string{"no phone support"}, c.Cons)

	// unpublished reviews are not served to anonymous visitors
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", fmt.Sprintf("/casinos/%d", unpublished.ID), nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/casinos/99999", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/casinos/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandler_Add(t *testing.T) {
	_, _, router := newTestHandler(t, nil)

	addBody, err := json.Marshal(testCasino("Neon Spin", 4.1, true, false))
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/admin/casinos", bytes.NewReader(addBody))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)

	var added Casino
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &added))
	assert.NotZero(t, added.ID)
	assert.Equal(t, "Neon Spin", added.Name)

	// missing content type
	req = httptest.NewRequest("POST", "/admin/casinos", bytes.NewReader(addBody))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// empty name
	nameless := testCasino("", 4.1, true, false)
	addBody, err = json.Marshal(nameless)
	require.NoError(t, err)
	req = httptest.NewRequest("POST", "/admin/casinos", bytes.NewReader(addBody))
	req.Header.Set("Content-Type", "application/json")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// rating out of range
	overRated := testCasino("Too Good", 5.5, true, false)
	addBody, err = json.Marshal(overRated)
	require.NoError(t, err)
	req = httptest.NewRequest("POST", "/admin/casinos", bytes.NewReader(addBody))
	req.Header.Set("Content-Type", "application/json")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandler_Update(t *testing.T) {
	_, repo, router := newTestHandler(t, nil)
	published, _ := seedCasinos(t, repo)

	published.Rating = 4.8
	updateBody, err := json.Marshal(published)
	require.NoError(t, err)
	req := httptest.NewRequest("PUT", fmt.Sprintf("/admin/casinos/%d", published.ID), bytes.NewReader(updateBody))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	updated, err := repo.Get(context.Background(), published.ID)
	require.NoError(t, err)
	assert.Equal(t, 4.8, updated.Rating)

	// unknown id
	req = httptest.NewRequest("PUT", "/admin/casinos/99999", bytes.NewReader(updateBody))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandler_Delete_RequiresPin(t *testing.T) {
	_, repo, router := newTestHandler(t, nil)
	published, _ := seedCasinos(t, repo)

	// no pin header
	req := httptest.NewRequest("DELETE", fmt.Sprintf("/admin/casinos/%d", published.ID), nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	// wrong pin
	req = httptest.NewRequest("DELETE", fmt.Sprintf("/admin/casinos/%d", published.ID), nil)
	req.Header.Set(pinHeader, "000000")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	// correct pin
	req = httptest.NewRequest("DELETE", fmt.Sprintf("/admin/casinos/%d", published.ID), nil)
	req.Header.Set(pinHeader, "428913")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	_, err := repo.Get(context.Background(), published.ID)
	assert.ErrorIs(t, err, ErrCasinoNotFound)
}

func TestHandler_Bonuses(t *testing.T) {
	_, repo, router := newTestHandler(t, nil)
	published, _ := seedCasinos(t, repo)

	// no bonuses yet
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", fmt.Sprintf("/casinos/%d/bonuses", published.ID), nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())

	// add one
	bonusBody, err := json.Marshal(Bonus{
		Title:     "Welcome Package",
		BonusType: "deposit_match",
		Amount:    "100% up to 500 EUR",
		Wagering:  "35x",
		Active:    true,
	})
	require.NoError(t, err)
	req := httptest.NewRequest("POST", fmt.Sprintf("/admin/casinos/%d/bonuses", published.ID), bytes.NewReader(bonusBody))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)

	var addedBonus Bonus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &addedBonus))
	assert.Equal(t, published.ID, addedBonus.CasinoID)

	// bonus for a missing casino
	req = httptest.NewRequest("POST", "/admin/casinos/99999/bonuses", bytes.NewReader(bonusBody))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// listed now
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", fmt.Sprintf("/casinos/%d/bonuses", published.ID), nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var bonuses []Bonus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &bonuses))
	require.Len(t, bonuses, 1)

	// delete needs the pin
	req = httptest.NewRequest("DELETE", fmt.Sprintf("/admin/bonuses/%d", addedBonus.ID), nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	req = httptest.NewRequest("DELETE", fmt.Sprintf("/admin/bonuses/%d", addedBonus.ID), nil)
	req.Header.Set(pinHeader, "428913")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, fmt.Sprintf("deleted:%d", addedBonus.ID), rr.Body.String())
}
