package appointment

import (
	"errors"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sehatsethu/sehatsethu-server/cmd/models"
	"github.com/sehatsethu/sehatsethu-server/cmd/utils"
	"github.com/sehatsethu/sehatsethu-server/service/schedule"
)

// Notifier delivers best-effort user notifications; failures are the
// notifier's problem, never the booking's.
type Notifier interface {
	Notify(userID uint, title, body string)
}

type AppointmentHandler struct {
	db       *gorm.DB
	auth     *utils.Authenticator
	notifier Notifier
	now      func() time.Time
}

func NewAppointmentHandler(db *gorm.DB, auth *utils.Authenticator, notifier Notifier) *AppointmentHandler {
	return &AppointmentHandler{
		db:       db,
		auth:     auth,
		notifier: notifier,
		now:      time.Now,
	}
}

func (h *AppointmentHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/patients/doctors/slots", h.auth.RequireRole(models.RolePatient, h.GetDoctorSlots)).Methods("GET", "POST")
	router.HandleFunc("/appointments/book", h.auth.RequireRole(models.RolePatient, h.BookAppointment)).Methods("POST")
	router.HandleFunc("/appointments/status", h.auth.RequireRole(models.RolePatient, h.BookingStatus)).Methods("POST")
	router.HandleFunc("/appointments/detail", h.auth.RequireRole(models.RolePatient, h.AppointmentDetail)).Methods("POST")
}

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// loadBookableDoctor enforces the three-way doctor gate. Ineligible and
// missing doctors are indistinguishable to the caller so verification
// status never leaks.
func (h *AppointmentHandler) loadBookableDoctor(doctorID uint) (*models.User, error) {
	var doctor models.User
	if err := h.db.First(&doctor, doctorID).Error; err != nil {
		return nil, err
	}
	if !doctor.IsBookableDoctor() {
		return nil, gorm.ErrRecordNotFound
	}
	return &doctor, nil
}

func (h *AppointmentHandler) weeklyRules(doctorID uint) (schedule.WeekRules, error) {
	var rows []models.DoctorAvailability
	if err := h.db.Where("user_id = ?", doctorID).
		Order("day_of_week ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return schedule.BuildWeek(rows), nil
}

// GetDoctorSlots returns the bookable calendar for a doctor: weekly
// rules expanded to discrete slots, with already-taken ones flagged.
func (h *AppointmentHandler) GetDoctorSlots(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DoctorID  uint `json:"doctorId"`
		DaysAhead int  `json:"daysAhead"`
	}

	if r.Method == http.MethodGet {
		id, _ := strconv.ParseUint(r.URL.Query().Get("doctorId"), 10, 64)
		req.DoctorID = uint(id)
		req.DaysAhead, _ = strconv.Atoi(r.URL.Query().Get("daysAhead"))
	} else if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	if req.DoctorID == 0 {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Missing doctorId")
		return
	}
	if req.DaysAhead == 0 {
		req.DaysAhead = 7
	}
	daysAhead := schedule.ClampDaysAhead(req.DaysAhead)

	if _, err := h.loadBookableDoctor(req.DoctorID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.WriteError(w, http.StatusNotFound, "Doctor not found")
			return
		}
		utils.WriteError(w, http.StatusInternalServerError, "Server error")
		return
	}

	rules, err := h.weeklyRules(req.DoctorID)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Server error")
		return
	}

	now := h.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	days := schedule.BuildCalendar(rules, today, daysAhead)

	var existing []models.Appointment
	if err := h.db.Where("doctor_id = ? AND scheduled_at >= ? AND scheduled_at < ?",
		req.DoctorID, today, today.AddDate(0, 0, daysAhead)).
		Find(&existing).Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Server error")
		return
	}

	days = schedule.MarkOccupied(days, schedule.BuildOccupied(existing))

	utils.WriteData(w, http.StatusOK, map[string]interface{}{"days": days})
}

// BookAppointment runs the full validation ladder and then reserves the
// slot atomically: a locked re-check plus the partial unique index on
// (doctor_id, scheduled_at) guarantee one winner per slot under
// concurrent attempts.
func (h *AppointmentHandler) BookAppointment(w http.ResponseWriter, r *http.Request) {
	patientID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		DoctorID     uint    `json:"doctorId"`
		SpecialtyKey string  `json:"specialtyKey"`
		ConsultType  string  `json:"consultType"`
		Date         string  `json:"date"`
		Time         string  `json:"time"`
		Symptoms     *string `json:"symptoms"`
		FeeAmount    int     `json:"feeAmount"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	req.ConsultType = strings.ToUpper(strings.TrimSpace(req.ConsultType))
	req.SpecialtyKey = strings.TrimSpace(req.SpecialtyKey)
	slotTime := schedule.NormalizeTime(req.Time)

	if req.DoctorID == 0 {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid doctorId")
		return
	}
	if req.SpecialtyKey == "" {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid specialtyKey")
		return
	}
	if req.ConsultType != "AUDIO" && req.ConsultType != "VIDEO" {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid consultType")
		return
	}
	if !datePattern.MatchString(req.Date) {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid date")
		return
	}
	if slotTime == "" {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid time")
		return
	}

	if _, err := h.loadBookableDoctor(req.DoctorID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.WriteError(w, http.StatusNotFound, "Doctor not found")
			return
		}
		utils.WriteError(w, http.StatusInternalServerError, "Server error")
		return
	}

	now := h.now()
	scheduledAt, err := time.ParseInLocation("2006-01-02 15:04", req.Date+" "+slotTime, now.Location())
	if err != nil {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid date/time")
		return
	}

	rules, err := h.weeklyRules(req.DoctorID)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Server error")
		return
	}

	rule := rules[schedule.ISOWeekday(scheduledAt)]
	if !rule.Enabled {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Doctor is not available on this day")
		return
	}
	if !schedule.SlotFits(rule, slotTime) {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Selected time is outside doctor's availability")
		return
	}

	// Past times are rejected here, not filtered from the calendar;
	// equal-to-now counts as past.
	if req.Date == now.Format("2006-01-02") &&
		schedule.ToMinutes(slotTime) <= schedule.ToMinutes(now.Format("15:04")) {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Selected time has already passed")
		return
	}

	appt := models.Appointment{
		PatientID:       patientID,
		DoctorID:        req.DoctorID,
		SpecialtyKey:    req.SpecialtyKey,
		ConsultType:     req.ConsultType,
		Symptoms:        req.Symptoms,
		FeeAmount:       req.FeeAmount,
		ScheduledAt:     scheduledAt,
		DurationMinutes: schedule.SlotMinutes,
		Status:          models.AppointmentBooked,
		PublicCode:      newPublicCode(),
	}

	tx := h.db.Begin()
	if tx.Error != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Failed to create appointment")
		return
	}

	// Locked pre-check: serialize against concurrent bookings for the
	// same doctor and time before inserting.
	var existing models.Appointment
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("doctor_id = ? AND scheduled_at = ? AND status IN ?",
			req.DoctorID, scheduledAt, models.BlockingStatuses).
		First(&existing).Error
	if err == nil {
		tx.Rollback()
		utils.WriteErrorCode(w, http.StatusConflict,
			"Someone else booked this time slot. Please choose another time.", utils.CodeSlotTaken)
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		tx.Rollback()
		utils.WriteError(w, http.StatusInternalServerError, "Failed to create appointment")
		return
	}

	if err := tx.Create(&appt).Error; err != nil {
		tx.Rollback()
		// A unique violation means the race was lost between the locked
		// read and the insert; surface it exactly like a detected
		// conflict.
		if isDuplicateKey(err) {
			utils.WriteErrorCode(w, http.StatusConflict,
				"Someone else booked this time slot. Please choose another time.", utils.CodeSlotTaken)
			return
		}
		log.Printf("appointment: insert failed: %v", err)
		utils.WriteError(w, http.StatusInternalServerError, "Failed to create appointment")
		return
	}

	if err := tx.Commit().Error; err != nil {
		if isDuplicateKey(err) {
			utils.WriteErrorCode(w, http.StatusConflict,
				"Someone else booked this time slot. Please choose another time.", utils.CodeSlotTaken)
			return
		}
		log.Printf("appointment: commit failed: %v", err)
		utils.WriteError(w, http.StatusInternalServerError, "Failed to create appointment")
		return
	}

	if h.notifier != nil {
		h.notifier.Notify(patientID, "Appointment booked",
			"Your appointment is booked on "+req.Date+" at "+slotTime+" ("+req.ConsultType+").")
		h.notifier.Notify(req.DoctorID, "New appointment",
			"You have a new appointment on "+req.Date+" at "+slotTime+" ("+req.ConsultType+").")
	}

	utils.WriteData(w, http.StatusOK, map[string]string{"bookingId": appt.PublicCode})
}

// BookingStatus reports the patient's next upcoming active appointment
// with the given doctor, if any.
func (h *AppointmentHandler) BookingStatus(w http.ResponseWriter, r *http.Request) {
	patientID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		DoctorID uint `json:"doctorId"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil || req.DoctorID == 0 {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid doctorId")
		return
	}

	var appt models.Appointment
	err = h.db.Where("patient_id = ? AND doctor_id = ? AND scheduled_at >= ? AND status IN ?",
		patientID, req.DoctorID, h.now(),
		[]string{models.AppointmentBooked, models.AppointmentConfirmed}).
		Order("scheduled_at ASC").First(&appt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.WriteData(w, http.StatusOK, map[string]interface{}{"hasActiveBooking": false})
			return
		}
		utils.WriteError(w, http.StatusInternalServerError, "Failed to check booking status")
		return
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"hasActiveBooking": true,
		"appointmentId":    appt.PublicCode,
		"scheduledAt":      appt.ScheduledAt.Format("2006-01-02 15:04:05"),
		"consultType":      appt.ConsultType,
		"specialtyKey":     appt.SpecialtyKey,
		"status":           appt.Status,
	})
}

// AppointmentDetail returns one of the patient's own appointments,
// looked up by public code or internal id.
func (h *AppointmentHandler) AppointmentDetail(w http.ResponseWriter, r *http.Request) {
	patientID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		AppointmentID string `json:"appointmentId"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil || strings.TrimSpace(req.AppointmentID) == "" {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid appointmentId")
		return
	}
	key := strings.TrimSpace(req.AppointmentID)

	query := h.db.Where("patient_id = ?", patientID)
	if id, convErr := strconv.ParseUint(key, 10, 64); convErr == nil {
		query = query.Where("id = ?", id)
	} else {
		query = query.Where("public_code = ?", key)
	}

	var appt models.Appointment
	if err := query.First(&appt).Error; err != nil {
		utils.WriteError(w, http.StatusNotFound, "Appointment not found")
		return
	}

	var doctor models.User
	doctorName := "Doctor"
	specialization := ""
	worksAt := ""
	if err := h.db.Preload("DoctorProfile").First(&doctor, appt.DoctorID).Error; err == nil {
		doctorName = doctor.FullName
		if doctor.DoctorProfile != nil {
			specialization = doctor.DoctorProfile.Specialization
			worksAt = doctor.DoctorProfile.PracticePlace
		}
	}

	minutesLeft := int(appt.ScheduledAt.Sub(h.now()).Minutes())
	symptoms := ""
	if appt.Symptoms != nil {
		symptoms = *appt.Symptoms
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"appointmentId":   appt.PublicCode,
		"internalId":      strconv.FormatUint(uint64(appt.ID), 10),
		"doctorName":      doctorName,
		"specialization":  specialization,
		"worksAt":         worksAt,
		"specialtyKey":    appt.SpecialtyKey,
		"consultType":     appt.ConsultType,
		"symptoms":        symptoms,
		"fee":             appt.FeeAmount,
		"dateLabel":       appt.ScheduledAt.Format("2006-01-02"),
		"timeLabel":       appt.ScheduledAt.Format("15:04"),
		"scheduledAt":     appt.ScheduledAt.Format("2006-01-02 15:04:05"),
		"durationMinutes": appt.DurationMinutes,
		"status":          appt.Status,
		"minutesLeft":     minutesLeft,
	})
}

func newPublicCode() string {
	return "APT-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:12])
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint")
}
