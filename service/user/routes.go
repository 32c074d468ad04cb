package user

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sehatsethu/sehatsethu-server/cmd/models"
	"github.com/sehatsethu/sehatsethu-server/cmd/utils"
)

// Notifier delivers an in-app notification. Failures are handled by the
// implementation and never surface to the caller.
type Notifier interface {
	Notify(userID uint, title, body string)
}

type Handler struct {
	db       *gorm.DB
	auth     *utils.Authenticator
	notifier Notifier
	now      func() time.Time
}

func NewHandler(db *gorm.DB, auth *utils.Authenticator, notifier Notifier) *Handler {
	return &Handler{db: db, auth: auth, notifier: notifier, now: time.Now}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/users/me", h.auth.Middleware(h.GetMe)).Methods("GET")
	router.HandleFunc("/profile/doctor",
		h.auth.RequireRole(models.RoleDoctor, h.SubmitDoctorProfile)).Methods("POST")
	router.HandleFunc("/profile/pharmacist",
		h.auth.RequireRole(models.RolePharmacist, h.SubmitPharmacistProfile)).Methods("POST")
	router.HandleFunc("/admin/verify/{userId}",
		h.auth.RequireRole(models.RoleAdmin, h.ReviewVerification)).Methods("POST")
	router.HandleFunc("/patients/dashboard",
		h.auth.RequireRole(models.RolePatient, h.PatientDashboard)).Methods("GET")
}

func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	uid, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var user models.User
	query := h.db.Preload("DoctorProfile").Preload("PharmacistProfile")
	if err := query.First(&user, uid).Error; err != nil {
		utils.WriteError(w, http.StatusNotFound, "User not found")
		return
	}

	utils.WriteData(w, http.StatusOK, user)
}

type documentUpload struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

func saveDocuments(docs []documentUpload) ([]string, error) {
	if len(docs) < 1 || len(docs) > 3 {
		return nil, fmt.Errorf("between 1 and 3 documents required")
	}
	paths := make([]string, 0, len(docs))
	for _, doc := range docs {
		path, err := utils.SaveDocumentBase64(doc.MimeType, doc.Data)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// SubmitDoctorProfile records a doctor's practice details and credential
// documents and queues the submission for admin review. Resubmitting
// replaces the previous profile and documents.
func (h *Handler) SubmitDoctorProfile(w http.ResponseWriter, r *http.Request) {
	uid, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Specialization  string           `json:"specialization"`
		SpecialtyKey    string           `json:"specialty_key"`
		PracticePlace   string           `json:"practice_place"`
		LicenseNo       string           `json:"license_no"`
		ConsultationFee int              `json:"consultation_fee"`
		Documents       []documentUpload `json:"documents"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	if strings.TrimSpace(req.Specialization) == "" {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Specialization required.")
		return
	}
	if strings.TrimSpace(req.LicenseNo) == "" {
		utils.WriteError(w, http.StatusUnprocessableEntity, "License number required.")
		return
	}
	if req.ConsultationFee < 0 {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Consultation fee cannot be negative.")
		return
	}

	paths, err := saveDocuments(req.Documents)
	if err != nil {
		utils.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	profile := models.DoctorProfile{
		UserID:          uid,
		Specialization:  strings.TrimSpace(req.Specialization),
		SpecialtyKey:    strings.ToLower(strings.TrimSpace(req.SpecialtyKey)),
		PracticePlace:   strings.TrimSpace(req.PracticePlace),
		LicenseNo:       strings.TrimSpace(req.LicenseNo),
		ConsultationFee: req.ConsultationFee,
	}

	if err := h.submitProfile(uid, models.RoleDoctor, paths, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"specialization", "specialty_key", "practice_place",
				"license_no", "consultation_fee", "updated_at",
			}),
		}).Create(&profile).Error
	}); err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Could not save profile. Please try again.")
		return
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"message":                   "Profile submitted for verification.",
		"admin_verification_status": models.VerificationPending,
		"profile_completed":         true,
	})
}

// SubmitPharmacistProfile is the pharmacist counterpart of
// SubmitDoctorProfile.
func (h *Handler) SubmitPharmacistProfile(w http.ResponseWriter, r *http.Request) {
	uid, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		PharmacyName  string           `json:"pharmacy_name"`
		DrugLicenseNo string           `json:"drug_license_no"`
		VillageTown   string           `json:"village_town"`
		FullAddress   string           `json:"full_address"`
		Documents     []documentUpload `json:"documents"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	if strings.TrimSpace(req.PharmacyName) == "" {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Pharmacy name required.")
		return
	}
	if strings.TrimSpace(req.DrugLicenseNo) == "" {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Drug license number required.")
		return
	}

	paths, err := saveDocuments(req.Documents)
	if err != nil {
		utils.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	profile := models.PharmacistProfile{
		UserID:        uid,
		PharmacyName:  strings.TrimSpace(req.PharmacyName),
		DrugLicenseNo: strings.TrimSpace(req.DrugLicenseNo),
		VillageTown:   strings.TrimSpace(req.VillageTown),
		FullAddress:   strings.TrimSpace(req.FullAddress),
	}

	if err := h.submitProfile(uid, models.RolePharmacist, paths, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"pharmacy_name", "drug_license_no", "village_town",
				"full_address", "updated_at",
			}),
		}).Create(&profile).Error
	}); err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Could not save profile. Please try again.")
		return
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"message":                   "Profile submitted for verification.",
		"admin_verification_status": models.VerificationPending,
		"profile_completed":         true,
	})
}

// submitProfile runs the shared part of a profile submission: the
// role-specific upsert, the verification row, and the user flags, all in
// one transaction.
func (h *Handler) submitProfile(uid uint, role string, docPaths []string, upsert func(tx *gorm.DB) error) error {
	return h.db.Transaction(func(tx *gorm.DB) error {
		if err := upsert(tx); err != nil {
			return err
		}

		submittedAt := h.now()
		verification := models.ProfessionalVerification{
			UserID:      uid,
			Role:        role,
			Status:      models.VerificationPending,
			SubmittedAt: &submittedAt,
			Documents:   docPaths,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "submitted_at", "documents", "rejection_reason", "updated_at",
			}),
		}).Create(&verification).Error; err != nil {
			return err
		}

		return tx.Model(&models.User{}).Where("id = ?", uid).Updates(map[string]interface{}{
			"profile_completed":         true,
			"admin_verification_status": models.VerificationPending,
		}).Error
	})
}

// ReviewVerification lets an admin approve or reject a pending doctor or
// pharmacist submission. The decision is pushed to the professional as a
// notification.
func (h *Handler) ReviewVerification(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	targetID, err := strconv.ParseUint(vars["userId"], 10, 32)
	if err != nil {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid user id")
		return
	}

	var req struct {
		Action string `json:"action"`
		Reason string `json:"reason"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	action := strings.ToUpper(strings.TrimSpace(req.Action))
	if action != "APPROVE" && action != "REJECT" {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Action must be APPROVE or REJECT.")
		return
	}

	var target models.User
	if err := h.db.First(&target, uint(targetID)).Error; err != nil {
		utils.WriteError(w, http.StatusNotFound, "User not found")
		return
	}
	if target.Role != models.RoleDoctor && target.Role != models.RolePharmacist {
		utils.WriteError(w, http.StatusUnprocessableEntity, "User is not a doctor or pharmacist.")
		return
	}

	newStatus := models.VerificationVerified
	if action == "REJECT" {
		newStatus = models.VerificationRejected
	}

	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).Where("id = ?", target.ID).
			Update("admin_verification_status", newStatus).Error; err != nil {
			return err
		}
		return tx.Model(&models.ProfessionalVerification{}).
			Where("user_id = ?", target.ID).
			Updates(map[string]interface{}{
				"status":           newStatus,
				"rejection_reason": strings.TrimSpace(req.Reason),
			}).Error
	})
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Could not update verification status.")
		return
	}

	if action == "APPROVE" {
		h.notifier.Notify(target.ID, "Verification approved",
			"Your professional credentials have been verified. Your profile is now live.")
	} else {
		body := "Your verification was rejected."
		if reason := strings.TrimSpace(req.Reason); reason != "" {
			body = fmt.Sprintf("Your verification was rejected: %s", reason)
		}
		h.notifier.Notify(target.ID, "Verification rejected", body)
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"user_id": target.ID,
		"status":  newStatus,
	})
}

// defaultSpecialities seeds the browse screen when no doctor has been
// verified yet.
var defaultSpecialities = []map[string]string{
	{"key": "general", "label": "General Physician"},
	{"key": "pediatrics", "label": "Pediatrics"},
	{"key": "gynecology", "label": "Gynecology"},
	{"key": "dermatology", "label": "Dermatology"},
	{"key": "cardiology", "label": "Cardiology"},
	{"key": "orthopedics", "label": "Orthopedics"},
}

// PatientDashboard returns the speciality chips shown on the patient
// home screen, derived from the verified doctor pool.
func (h *Handler) PatientDashboard(w http.ResponseWriter, r *http.Request) {
	uid, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var user models.User
	if err := h.db.First(&user, uid).Error; err != nil {
		utils.WriteError(w, http.StatusNotFound, "User not found")
		return
	}

	type specialityRow struct {
		SpecialtyKey   string
		Specialization string
		DoctorCount    int
	}
	var rows []specialityRow
	err = h.db.Model(&models.DoctorProfile{}).
		Select("doctor_profiles.specialty_key, MIN(doctor_profiles.specialization) AS specialization, COUNT(*) AS doctor_count").
		Joins("JOIN users ON users.id = doctor_profiles.user_id").
		Where("users.role = ? AND users.is_active = ? AND users.admin_verification_status = ? AND users.deleted_at IS NULL",
			models.RoleDoctor, true, models.VerificationVerified).
		Where("doctor_profiles.specialty_key <> ''").
		Group("doctor_profiles.specialty_key").
		Order("doctor_profiles.specialty_key").
		Scan(&rows).Error
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Could not load dashboard.")
		return
	}

	specialities := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		specialities = append(specialities, map[string]interface{}{
			"key":         row.SpecialtyKey,
			"label":       row.Specialization,
			"doctorCount": row.DoctorCount,
		})
	}
	if len(specialities) == 0 {
		for _, s := range defaultSpecialities {
			specialities = append(specialities, map[string]interface{}{
				"key":         s["key"],
				"label":       s["label"],
				"doctorCount": 0,
			})
		}
	}

	var unread int64
	h.db.Model(&models.Notification{}).Where("user_id = ? AND is_read = ?", uid, false).Count(&unread)

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"fullName":     user.FullName,
		"specialities": specialities,
		"unreadCount":  unread,
	})
}
