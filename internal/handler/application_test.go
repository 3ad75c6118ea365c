package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadray/backoffice/internal/middleware"
	"github.com/leadray/backoffice/internal/repository"
)

type fakeApplicationStore struct {
	rows map[uint64]repository.Application
}

func newFakeApplicationStore(rows ...repository.Application) *fakeApplicationStore {
	s := &fakeApplicationStore{rows: map[uint64]repository.Application{}}
	for _, a := range rows {
		s.rows[a.ID] = a
	}
	return s
}

func (s *fakeApplicationStore) List(_ context.Context, f repository.ApplicationFilter) ([]repository.Application, error) {
	var out []repository.Application
	for _, a := range s.rows {
		if f.InvestorID != nil && (a.InvestorID == nil || *a.InvestorID != *f.InvestorID) {
			continue
		}
		if f.CampaignID != nil && (a.CampaignID == nil || *a.CampaignID != *f.CampaignID) {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		if f.DateFrom != nil && a.SubmittedAt.Before(*f.DateFrom) {
			continue
		}
		if f.DateTo != nil && a.SubmittedAt.After(*f.DateTo) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeApplicationStore) GetByID(_ context.Context, id uint64) (repository.Application, error) {
	a, ok := s.rows[id]
	if !ok {
		return repository.Application{}, repository.ErrNotFound
	}
	return a, nil
}

func (s *fakeApplicationStore) GetByIDForInvestor(_ context.Context, id, investorID uint64) (repository.Application, error) {
	a, ok := s.rows[id]
	if !ok || a.InvestorID == nil || *a.InvestorID != investorID {
		return repository.Application{}, repository.ErrNotFound
	}
	return a, nil
}

func (s *fakeApplicationStore) Update(_ context.Context, id uint64, ch repository.ApplicationChanges) error {
	a, ok := s.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	if ch.Status != nil {
		a.Status = *ch.Status
		if *ch.Status != repository.ApplicationStatusNew {
			a.Contacted = true
		}
	}
	if ch.Revenue != nil {
		a.Revenue = ch.Revenue
	}
	s.rows[id] = a
	return nil
}

func (s *fakeApplicationStore) Delete(_ context.Context, id uint64) error {
	if _, ok := s.rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.rows, id)
	return nil
}

func applicationFixture(t *testing.T) (*ApplicationHandler, *fakeApplicationStore, repository.User, repository.User) {
	t.Helper()
	admin := repository.User{ID: 1, Login: "boss", Role: repository.RoleAdmin, IsActive: true}
	investor := repository.User{ID: 2, Login: "partner", Role: repository.RoleInvestor, IsActive: true}

	mine, theirs := uint64(2), uint64(3)
	camp10, camp11 := uint64(10), uint64(11)
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	store := newFakeApplicationStore(
		repository.Application{ID: 100, TelegramID: 111, Phone: "+100", Age: 30, Citizenship: "DE",
			SubmittedAt: base, CampaignID: &camp10, InvestorID: &mine, Status: repository.ApplicationStatusNew},
		repository.Application{ID: 101, TelegramID: 222, Phone: "+200", Age: 25, Citizenship: "PL",
			SubmittedAt: base.AddDate(0, 0, 5), CampaignID: &camp10, InvestorID: &mine, Status: repository.ApplicationStatusApproved},
		repository.Application{ID: 102, TelegramID: 333, Phone: "+300", Age: 40, Citizenship: "FR",
			SubmittedAt: base, CampaignID: &camp11, InvestorID: &theirs, Status: repository.ApplicationStatusNew},
	)
	return NewApplicationHandler(store), store, admin, investor
}

// doAppList runs List with a query string as the given principal.
func doAppList(t *testing.T, h *ApplicationHandler, u repository.User, query string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/applications"+query, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	middleware.SetCurrentUser(c, u)
	require.NoError(t, h.List(c))
	return rec
}

func decodeApps(t *testing.T, rec *httptest.ResponseRecorder) []applicationPart {
	t.Helper()
	var out []applicationPart
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestApplicationListScoping(t *testing.T) {
	h, _, admin, investor := applicationFixture(t)

	rec := doAppList(t, h, admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeApps(t, rec), 3)

	rec = doAppList(t, h, investor, "")
	require.Equal(t, http.StatusOK, rec.Code)
	apps := decodeApps(t, rec)
	require.Len(t, apps, 2)
	for _, a := range apps {
		require.NotNil(t, a.CampaignID)
		assert.Equal(t, uint64(10), *a.CampaignID)
	}
}

func TestApplicationListFilters(t *testing.T) {
	h, _, admin, _ := applicationFixture(t)

	rec := doAppList(t, h, admin, "?status=approved")
	require.Equal(t, http.StatusOK, rec.Code)
	apps := decodeApps(t, rec)
	require.Len(t, apps, 1)
	assert.Equal(t, uint64(101), apps[0].ID)

	rec = doAppList(t, h, admin, "?campaign_id=11")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeApps(t, rec), 1)

	rec = doAppList(t, h, admin, "?date_from=2025-05-02")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeApps(t, rec), 1)

	// date_to is inclusive of the named day
	rec = doAppList(t, h, admin, "?date_to=2025-05-01")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeApps(t, rec), 2)

	rec = doAppList(t, h, admin, "?status=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doAppList(t, h, admin, "?date_from=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApplicationGetOwnership(t *testing.T) {
	h, _, admin, investor := applicationFixture(t)

	rec := doAs(t, h.Get, investor, http.MethodGet, "", "100")
	assert.Equal(t, http.StatusOK, rec.Code)

	// someone else's row answers as missing, not forbidden
	rec = doAs(t, h.Get, investor, http.MethodGet, "", "102")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doAs(t, h.Get, admin, http.MethodGet, "", "102")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestApplicationUpdate(t *testing.T) {
	h, store, _, investor := applicationFixture(t)

	rec := doAs(t, h.Update, investor, http.MethodPatch,
		`{"status":"in_progress","revenue":250.5}`, "100")
	require.Equal(t, http.StatusOK, rec.Code)
	got := store.rows[100]
	assert.Equal(t, repository.ApplicationStatusInProgress, got.Status)
	require.NotNil(t, got.Revenue)
	assert.Equal(t, 250.5, *got.Revenue)
	assert.True(t, got.Contacted)

	rec = doAs(t, h.Update, investor, http.MethodPatch, `{"status":"approved"}`, "102")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doAs(t, h.Update, investor, http.MethodPatch, `{"status":"won"}`, "100")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doAs(t, h.Update, investor, http.MethodPatch, `{"revenue":-5}`, "100")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doAs(t, h.Update, investor, http.MethodPatch, `{}`, "100")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApplicationDelete(t *testing.T) {
	h, store, admin, _ := applicationFixture(t)

	rec := doAs(t, h.Delete, admin, http.MethodDelete, "", "100")
	require.Equal(t, http.StatusOK, rec.Code)
	_, ok := store.rows[100]
	assert.False(t, ok)

	rec = doAs(t, h.Delete, admin, http.MethodDelete, "", "100")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
