package appointment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/sehatsethu/sehatsethu-server/cmd/models"
	"github.com/sehatsethu/sehatsethu-server/cmd/utils"
)

// fixedNow is a Monday morning; booking tests target the same day.
var fixedNow = time.Date(2026, 8, 24, 8, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []uint
}

func (n *recordingNotifier) Notify(userID uint, title, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, userID)
}

func setupHandler(t *testing.T) (*AppointmentHandler, sqlmock.Sqlmock, *recordingNotifier) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	h := NewAppointmentHandler(db, nil, notifier)
	h.now = func() time.Time { return fixedNow }
	return h, mock, notifier
}

func patientRequest(t *testing.T, method, target string, body interface{}, patientID uint) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, target, &buf)
	ctx := context.WithValue(r.Context(), utils.UserIDKey, patientID)
	ctx = context.WithValue(ctx, utils.RoleKey, models.RolePatient)
	return r.WithContext(ctx)
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var envelope map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	return envelope
}

func expectDoctorQuery(mock sqlmock.Sqlmock, id uint, role string, active bool, status string) {
	rows := sqlmock.NewRows([]string{"id", "role", "is_active", "admin_verification_status"}).
		AddRow(id, role, active, status)
	mock.ExpectQuery(`SELECT .* FROM "users"`).WillReturnRows(rows)
}

func expectAvailabilityQuery(mock sqlmock.Sqlmock, userID uint) {
	rows := sqlmock.NewRows([]string{"id", "user_id", "day_of_week", "enabled", "start_time", "end_time"})
	for d := 1; d <= 5; d++ {
		rows.AddRow(uint(d), userID, d, true, "09:00", "17:00")
	}
	mock.ExpectQuery(`SELECT .* FROM "doctor_availability"`).WillReturnRows(rows)
}

func validBooking() map[string]interface{} {
	return map[string]interface{}{
		"doctorId":     2,
		"specialtyKey": "general",
		"consultType":  "VIDEO",
		"date":         "2026-08-24",
		"time":         "10:00",
		"feeAmount":    500,
	}
}

func TestBookAppointmentValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(map[string]interface{})
		want   string
	}{
		{"missing doctor", func(m map[string]interface{}) { m["doctorId"] = 0 }, "Invalid doctorId"},
		{"missing specialty", func(m map[string]interface{}) { m["specialtyKey"] = "  " }, "Invalid specialtyKey"},
		{"bad consult type", func(m map[string]interface{}) { m["consultType"] = "CHAT" }, "Invalid consultType"},
		{"bad date", func(m map[string]interface{}) { m["date"] = "24-08-2026" }, "Invalid date"},
		{"bad time", func(m map[string]interface{}) { m["time"] = "ten" }, "Invalid time"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, _, _ := setupHandler(t)

			body := validBooking()
			tc.mutate(body)

			w := httptest.NewRecorder()
			h.BookAppointment(w, patientRequest(t, "POST", "/appointments/book", body, 1))

			assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
			env := decodeEnvelope(t, w)
			assert.Equal(t, false, env["ok"])
			assert.Equal(t, tc.want, env["error"])
		})
	}
}

func TestBookAppointmentLowercaseConsultTypeAccepted(t *testing.T) {
	h, mock, _ := setupHandler(t)

	expectDoctorQuery(mock, 2, models.RoleDoctor, true, models.VerificationVerified)
	expectAvailabilityQuery(mock, 2)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM "appointments" .* FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`INSERT INTO "appointments"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	body := validBooking()
	body["consultType"] = "video"

	w := httptest.NewRecorder()
	h.BookAppointment(w, patientRequest(t, "POST", "/appointments/book", body, 1))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBookAppointmentDoctorGate(t *testing.T) {
	cases := []struct {
		name   string
		role   string
		active bool
		status string
	}{
		{"not a doctor", models.RolePatient, true, models.VerificationVerified},
		{"inactive", models.RoleDoctor, false, models.VerificationVerified},
		{"unverified", models.RoleDoctor, true, models.VerificationPending},
		{"rejected", models.RoleDoctor, true, models.VerificationRejected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, mock, _ := setupHandler(t)
			expectDoctorQuery(mock, 2, tc.role, tc.active, tc.status)

			w := httptest.NewRecorder()
			h.BookAppointment(w, patientRequest(t, "POST", "/appointments/book", validBooking(), 1))

			// ineligible doctors are indistinguishable from missing ones
			assert.Equal(t, http.StatusNotFound, w.Code)
			env := decodeEnvelope(t, w)
			assert.Equal(t, "Doctor not found", env["error"])
		})
	}
}

func TestBookAppointmentUnknownDoctor(t *testing.T) {
	h, mock, _ := setupHandler(t)
	mock.ExpectQuery(`SELECT .* FROM "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	w := httptest.NewRecorder()
	h.BookAppointment(w, patientRequest(t, "POST", "/appointments/book", validBooking(), 1))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBookAppointmentOutsideAvailability(t *testing.T) {
	cases := []struct {
		name string
		date string
		slot string
		want string
	}{
		{"disabled day", "2026-08-29", "10:00", "Doctor is not available on this day"}, // Saturday
		{"before window", "2026-08-24", "08:00", "Selected time is outside doctor's availability"},
		{"after window", "2026-08-24", "17:00", "Selected time is outside doctor's availability"},
		{"straddles close", "2026-08-24", "16:45", "Selected time is outside doctor's availability"},
		{"off grid", "2026-08-24", "10:15", "Selected time is outside doctor's availability"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, mock, _ := setupHandler(t)
			expectDoctorQuery(mock, 2, models.RoleDoctor, true, models.VerificationVerified)
			expectAvailabilityQuery(mock, 2)

			body := validBooking()
			body["date"] = tc.date
			body["time"] = tc.slot

			w := httptest.NewRecorder()
			h.BookAppointment(w, patientRequest(t, "POST", "/appointments/book", body, 1))

			assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
			env := decodeEnvelope(t, w)
			assert.Equal(t, tc.want, env["error"])
		})
	}
}

func TestBookAppointmentPastTimeSameDay(t *testing.T) {
	h, mock, _ := setupHandler(t)
	expectDoctorQuery(mock, 2, models.RoleDoctor, true, models.VerificationVerified)
	expectAvailabilityQuery(mock, 2)

	// 07:30 is before the 08:00 clock but also before the window opens,
	// so use a handler clock of 10:00 and book 09:30 instead.
	h.now = func() time.Time {
		return time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	}

	body := validBooking()
	body["time"] = "09:30"

	w := httptest.NewRecorder()
	h.BookAppointment(w, patientRequest(t, "POST", "/appointments/book", body, 1))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	env := decodeEnvelope(t, w)
	assert.Equal(t, "Selected time has already passed", env["error"])
}

func TestBookAppointmentEqualToNowRejected(t *testing.T) {
	h, mock, _ := setupHandler(t)
	expectDoctorQuery(mock, 2, models.RoleDoctor, true, models.VerificationVerified)
	expectAvailabilityQuery(mock, 2)

	h.now = func() time.Time {
		return time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	}

	w := httptest.NewRecorder()
	h.BookAppointment(w, patientRequest(t, "POST", "/appointments/book", validBooking(), 1))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	env := decodeEnvelope(t, w)
	assert.Equal(t, "Selected time has already passed", env["error"])
}

func TestBookAppointmentSlotTakenOnLockedCheck(t *testing.T) {
	h, mock, notifier := setupHandler(t)
	expectDoctorQuery(mock, 2, models.RoleDoctor, true, models.VerificationVerified)
	expectAvailabilityQuery(mock, 2)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM "appointments" .* FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "doctor_id", "status"}).
			AddRow(7, 2, models.AppointmentBooked))
	mock.ExpectRollback()

	w := httptest.NewRecorder()
	h.BookAppointment(w, patientRequest(t, "POST", "/appointments/book", validBooking(), 1))

	assert.Equal(t, http.StatusConflict, w.Code)
	env := decodeEnvelope(t, w)
	assert.Equal(t, utils.CodeSlotTaken, env["code"])
	assert.Empty(t, notifier.calls)
}

func TestBookAppointmentRaceLostOnInsert(t *testing.T) {
	h, mock, notifier := setupHandler(t)
	expectDoctorQuery(mock, 2, models.RoleDoctor, true, models.VerificationVerified)
	expectAvailabilityQuery(mock, 2)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM "appointments" .* FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`INSERT INTO "appointments"`).
		WillReturnError(errors.New(`pq: duplicate key value violates unique constraint "uq_doctor_slot"`))
	mock.ExpectRollback()

	w := httptest.NewRecorder()
	h.BookAppointment(w, patientRequest(t, "POST", "/appointments/book", validBooking(), 1))

	// losing the race between the locked read and the insert looks
	// exactly like a detected conflict
	assert.Equal(t, http.StatusConflict, w.Code)
	env := decodeEnvelope(t, w)
	assert.Equal(t, utils.CodeSlotTaken, env["code"])
	assert.Empty(t, notifier.calls)
}

func TestBookAppointmentSuccess(t *testing.T) {
	h, mock, notifier := setupHandler(t)
	expectDoctorQuery(mock, 2, models.RoleDoctor, true, models.VerificationVerified)
	expectAvailabilityQuery(mock, 2)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM "appointments" .* FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`INSERT INTO "appointments"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	w := httptest.NewRecorder()
	h.BookAppointment(w, patientRequest(t, "POST", "/appointments/book", validBooking(), 1))

	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	assert.Equal(t, true, env["ok"])

	data := env["data"].(map[string]interface{})
	bookingID, _ := data["bookingId"].(string)
	assert.Regexp(t, regexp.MustCompile(`^APT-[0-9A-F]{12}$`), bookingID)

	// patient and doctor both notified
	assert.ElementsMatch(t, []uint{1, 2}, notifier.calls)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDoctorSlotsMissingDoctor(t *testing.T) {
	h, _, _ := setupHandler(t)

	w := httptest.NewRecorder()
	h.GetDoctorSlots(w, patientRequest(t, "GET", "/patients/doctors/slots", nil, 1))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestGetDoctorSlotsUnverifiedDoctorHidden(t *testing.T) {
	h, mock, _ := setupHandler(t)
	expectDoctorQuery(mock, 2, models.RoleDoctor, true, models.VerificationPending)

	w := httptest.NewRecorder()
	h.GetDoctorSlots(w, patientRequest(t, "GET", "/patients/doctors/slots?doctorId=2", nil, 1))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetDoctorSlotsMarksBookedSlots(t *testing.T) {
	h, mock, _ := setupHandler(t)
	expectDoctorQuery(mock, 2, models.RoleDoctor, true, models.VerificationVerified)
	expectAvailabilityQuery(mock, 2)

	booked := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT .* FROM "appointments"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "doctor_id", "scheduled_at", "status"}).
			AddRow(1, 2, booked, models.AppointmentBooked))

	w := httptest.NewRecorder()
	h.GetDoctorSlots(w, patientRequest(t, "GET", "/patients/doctors/slots?doctorId=2&daysAhead=1", nil, 1))

	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	data := env["data"].(map[string]interface{})
	days := data["days"].([]interface{})
	require.Len(t, days, 1)

	day := days[0].(map[string]interface{})
	assert.Equal(t, "2026-08-24", day["date"])
	assert.Equal(t, true, day["enabled"])

	found := false
	for _, s := range day["sections"].([]interface{}) {
		section := s.(map[string]interface{})
		for _, sl := range section["slots"].([]interface{}) {
			slot := sl.(map[string]interface{})
			if slot["value"] == "10:00" {
				found = true
				assert.Equal(t, true, slot["disabled"], "10:00 should be flagged as taken")
			} else {
				assert.NotEqual(t, true, slot["disabled"], fmt.Sprintf("%v should be free", slot["value"]))
			}
		}
	}
	assert.True(t, found, "expected the 10:00 slot in the calendar")
}

func TestBookingStatusNoActiveBooking(t *testing.T) {
	h, mock, _ := setupHandler(t)
	mock.ExpectQuery(`SELECT .* FROM "appointments"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	w := httptest.NewRecorder()
	h.BookingStatus(w, patientRequest(t, "POST", "/appointments/status",
		map[string]interface{}{"doctorId": 2}, 1))

	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	data := env["data"].(map[string]interface{})
	assert.Equal(t, false, data["hasActiveBooking"])
}

func TestAppointmentDetailNotOwned(t *testing.T) {
	h, mock, _ := setupHandler(t)
	mock.ExpectQuery(`SELECT .* FROM "appointments"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	w := httptest.NewRecorder()
	h.AppointmentDetail(w, patientRequest(t, "POST", "/appointments/detail",
		map[string]interface{}{"appointmentId": "APT-AAAABBBBCCCC"}, 1))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNewPublicCodeShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		code := newPublicCode()
		assert.Regexp(t, regexp.MustCompile(`^APT-[0-9A-F]{12}$`), code)
		assert.False(t, seen[code], "public codes must not repeat")
		seen[code] = true
	}
}

func TestIsDuplicateKey(t *testing.T) {
	assert.False(t, isDuplicateKey(nil))
	assert.False(t, isDuplicateKey(errors.New("connection refused")))
	assert.True(t, isDuplicateKey(gorm.ErrDuplicatedKey))
	assert.True(t, isDuplicateKey(errors.New(`pq: duplicate key value violates unique constraint "uq_doctor_slot"`)))
	assert.True(t, isDuplicateKey(errors.New("UNIQUE constraint failed: appointments.doctor_id")))
}
