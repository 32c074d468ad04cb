package pharmacy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/sehatsethu/sehatsethu-server/cmd/models"
	"github.com/sehatsethu/sehatsethu-server/cmd/utils"
)

func setupHandler(t *testing.T) (*Handler, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)

	return NewHandler(db, nil, nil), mock
}

func roleRequest(t *testing.T, method, target string, body interface{}, userID uint, role string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, target, &buf)
	ctx := context.WithValue(r.Context(), utils.UserIDKey, userID)
	ctx = context.WithValue(ctx, utils.RoleKey, role)
	return r.WithContext(ctx)
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var envelope map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	return envelope
}

func TestUpsertInventoryValidation(t *testing.T) {
	cases := []struct {
		name string
		body map[string]interface{}
		want string
	}{
		{
			"missing name",
			map[string]interface{}{"medicineName": "  ", "quantity": 10},
			"Medicine name required.",
		},
		{
			"negative quantity",
			map[string]interface{}{"medicineName": "Paracetamol", "quantity": -1},
			"Quantity cannot be negative.",
		},
		{
			"negative reorder level",
			map[string]interface{}{"medicineName": "Paracetamol", "quantity": 10, "reorderLevel": -5},
			"Reorder level cannot be negative.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, _ := setupHandler(t)

			w := httptest.NewRecorder()
			h.UpsertInventory(w, roleRequest(t, "POST", "/pharmacists/inventory", tc.body, 9, models.RolePharmacist))

			assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
			env := decodeEnvelope(t, w)
			assert.Equal(t, tc.want, env["error"])
		})
	}
}

func TestUpsertInventorySucceeds(t *testing.T) {
	h, mock := setupHandler(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "pharmacy_inventory" .* ON CONFLICT`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	body := map[string]interface{}{
		"medicineName": "Paracetamol",
		"strength":     "500mg",
		"quantity":     3,
		"reorderLevel": 10,
	}

	w := httptest.NewRecorder()
	h.UpsertInventory(w, roleRequest(t, "POST", "/pharmacists/inventory", body, 9, models.RolePharmacist))

	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	data := env["data"].(map[string]interface{})
	assert.Equal(t, "Paracetamol", data["medicineName"])
	assert.Equal(t, models.StockLow, data["status"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListInventoryFiltersByStatus(t *testing.T) {
	h, mock := setupHandler(t)

	rows := sqlmock.NewRows([]string{"id", "pharmacist_user_id", "medicine_name", "strength", "quantity", "reorder_level"}).
		AddRow(1, 9, "Amoxicillin", "250mg", 0, 5).
		AddRow(2, 9, "Ibuprofen", "400mg", 50, 10).
		AddRow(3, 9, "Paracetamol", "500mg", 4, 10)
	mock.ExpectQuery(`SELECT .* FROM "pharmacy_inventory"`).WillReturnRows(rows)

	w := httptest.NewRecorder()
	h.ListInventory(w, roleRequest(t, "POST", "/pharmacists/inventory/list",
		map[string]interface{}{"status": "LOW_STOCK"}, 9, models.RolePharmacist))

	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	data := env["data"].(map[string]interface{})
	items := data["items"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, "Paracetamol", items[0].(map[string]interface{})["medicineName"])
}

func TestPharmacyDetailHiddenWhenUnverified(t *testing.T) {
	h, mock := setupHandler(t)

	// the WHERE clause excludes unverified pharmacists, so the query
	// simply finds nothing
	mock.ExpectQuery(`SELECT .* FROM "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	r := roleRequest(t, "GET", "/patients/pharmacies/4", nil, 1, models.RolePatient)
	r = mux.SetURLVars(r, map[string]string{"pharmacistId": "4"})

	w := httptest.NewRecorder()
	h.PharmacyDetail(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPharmacyDetailInventoryLoadFailure(t *testing.T) {
	h, mock := setupHandler(t)

	mock.ExpectQuery(`SELECT .* FROM "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "role", "is_active", "admin_verification_status"}).
			AddRow(4, models.RolePharmacist, true, models.VerificationVerified))
	mock.ExpectQuery(`SELECT .* FROM "pharmacist_profiles"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "pharmacy_name"}))
	mock.ExpectQuery(`SELECT .* FROM "pharmacy_inventory"`).
		WillReturnError(errors.New("connection reset"))

	r := roleRequest(t, "GET", "/patients/pharmacies/4", nil, 1, models.RolePatient)
	r = mux.SetURLVars(r, map[string]string{"pharmacistId": "4"})

	w := httptest.NewRecorder()
	h.PharmacyDetail(w, r)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDashboardRequestLoadFailure(t *testing.T) {
	h, mock := setupHandler(t)

	mock.ExpectQuery(`SELECT .* FROM "pharmacist_profiles"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "pharmacy_name"}).
			AddRow(1, 9, "Sehat Pharmacy"))
	mock.ExpectQuery(`SELECT .* FROM "pharmacy_inventory"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "pharmacist_user_id", "medicine_name", "quantity", "reorder_level"}))
	mock.ExpectQuery(`SELECT .* FROM "medicine_requests"`).
		WillReturnError(errors.New("connection reset"))

	w := httptest.NewRecorder()
	h.Dashboard(w, roleRequest(t, "GET", "/pharmacists/dashboard", nil, 9, models.RolePharmacist))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestMedicineValidation(t *testing.T) {
	h, _ := setupHandler(t)

	w := httptest.NewRecorder()
	h.RequestMedicine(w, roleRequest(t, "POST", "/patients/medicines/request",
		map[string]interface{}{"pharmacistId": 4, "medicine": " "}, 1, models.RolePatient))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = httptest.NewRecorder()
	h.RequestMedicine(w, roleRequest(t, "POST", "/patients/medicines/request",
		map[string]interface{}{"pharmacistId": 0, "medicine": "Paracetamol"}, 1, models.RolePatient))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestSearchMedicinesRequiresQuery(t *testing.T) {
	h, _ := setupHandler(t)

	w := httptest.NewRecorder()
	h.SearchMedicines(w, roleRequest(t, "GET", "/patients/medicines/search", nil, 1, models.RolePatient))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
