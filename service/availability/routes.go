package availability

import (
	"net/http"

	"github.com/gorilla/mux"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sehatsethu/sehatsethu-server/cmd/models"
	"github.com/sehatsethu/sehatsethu-server/cmd/utils"
	"github.com/sehatsethu/sehatsethu-server/service/schedule"
)

// AvailabilityHandler lets a doctor manage their own weekly recurring
// rules; the appointment service consumes them read-only.
type AvailabilityHandler struct {
	db   *gorm.DB
	auth *utils.Authenticator
}

func NewAvailabilityHandler(db *gorm.DB, auth *utils.Authenticator) *AvailabilityHandler {
	return &AvailabilityHandler{db: db, auth: auth}
}

func (h *AvailabilityHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/doctors/availability", h.auth.RequireRole(models.RoleDoctor, h.GetAvailability)).Methods("GET")
	router.HandleFunc("/doctors/availability", h.auth.RequireRole(models.RoleDoctor, h.UpdateAvailability)).Methods("PUT")
}

type dayRule struct {
	DayOfWeek int    `json:"day_of_week"`
	Enabled   bool   `json:"enabled"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// GetAvailability returns all seven weekdays; days without a stored row
// come back disabled with the default display window.
func (h *AvailabilityHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var rows []models.DoctorAvailability
	if err := h.db.Where("user_id = ?", userID).
		Order("day_of_week ASC").Find(&rows).Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Error retrieving availability")
		return
	}

	rules := schedule.BuildWeek(rows)
	days := make([]dayRule, 0, 7)
	for d := 1; d <= 7; d++ {
		days = append(days, dayRule{
			DayOfWeek: d,
			Enabled:   rules[d].Enabled,
			StartTime: rules[d].Start,
			EndTime:   rules[d].End,
		})
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{"days": days})
}

// UpdateAvailability upserts the submitted weekday rules. Every enabled
// rule must carry a window long enough for at least one slot, so a
// doctor cannot save a schedule the calendar would silently disable.
func (h *AvailabilityHandler) UpdateAvailability(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Days []dayRule `json:"days"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil || len(req.Days) == 0 {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	rows := make([]models.DoctorAvailability, 0, len(req.Days))
	for _, d := range req.Days {
		if d.DayOfWeek < 1 || d.DayOfWeek > 7 {
			utils.WriteError(w, http.StatusUnprocessableEntity, "day_of_week must be 1-7")
			return
		}

		start := schedule.NormalizeTime(d.StartTime)
		end := schedule.NormalizeTime(d.EndTime)
		if d.Enabled {
			if start == "" || end == "" {
				utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid time format, use HH:MM")
				return
			}
			if schedule.ToMinutes(end)-schedule.ToMinutes(start) < schedule.SlotMinutes {
				utils.WriteError(w, http.StatusUnprocessableEntity, "Window too short for a 30-minute slot")
				return
			}
		}
		if start == "" {
			start = schedule.DefaultStart
		}
		if end == "" {
			end = schedule.DefaultEnd
		}

		rows = append(rows, models.DoctorAvailability{
			UserID:    userID,
			DayOfWeek: d.DayOfWeek,
			Enabled:   d.Enabled,
			StartTime: start,
			EndTime:   end,
		})
	}

	err = h.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "day_of_week"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "start_time", "end_time", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Error saving availability")
		return
	}

	utils.WriteData(w, http.StatusOK, map[string]string{"message": "Availability updated"})
}
