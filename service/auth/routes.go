package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/sehatsethu/sehatsethu-server/cmd/models"
	"github.com/sehatsethu/sehatsethu-server/cmd/utils"
)

const (
	otpTTL         = 10 * time.Minute
	signupTokenTTL = 30 * time.Minute
	maxOtpAttempts = 5
)

type Handler struct {
	db     *gorm.DB
	auth   *utils.Authenticator
	mailer *Mailer
	now    func() time.Time
}

func NewHandler(db *gorm.DB, auth *utils.Authenticator, mailer *Mailer) *Handler {
	return &Handler{db: db, auth: auth, mailer: mailer, now: time.Now}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/register/send-otp", h.SendSignupOTP).Methods("POST")
	router.HandleFunc("/auth/register/verify-otp", h.VerifySignupOTP).Methods("POST")
	router.HandleFunc("/auth/register", h.CreateAccount).Methods("POST")
	router.HandleFunc("/auth/login", h.Login).Methods("POST")
	router.HandleFunc("/auth/forgot/send-otp", h.SendResetOTP).Methods("POST")
	router.HandleFunc("/auth/forgot/reset", h.ResetPassword).Methods("POST")
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

func validRole(role string) bool {
	switch role {
	case models.RolePatient, models.RoleDoctor, models.RolePharmacist, models.RoleAdmin:
		return true
	}
	return false
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func hashEquals(stored, candidate string) bool {
	return hmac.Equal([]byte(stored), []byte(candidate))
}

func newOTP() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		// crypto/rand failing means something is deeply wrong with the host
		panic(err)
	}
	return fmt.Sprintf("%06d", n.Int64())
}

// SendSignupOTP starts a registration: it records a pending signup for
// (email, role) and mails a 6-digit code.
func (h *Handler) SendSignupOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	email := normalizeEmail(req.Email)
	role := strings.ToUpper(strings.TrimSpace(req.Role))

	if !validEmail(email) {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid email.")
		return
	}
	if !validRole(role) {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid role.")
		return
	}

	var existing models.User
	if err := h.db.Where("email = ?", email).First(&existing).Error; err == nil {
		utils.WriteErrorCode(w, http.StatusConflict,
			"Email already registered. Please sign in.", utils.CodeEmailExists)
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		utils.WriteError(w, http.StatusInternalServerError, "Server error")
		return
	}

	otp := newOTP()
	pending := models.SignupPending{
		Email:        email,
		Role:         role,
		OtpHash:      sha256Hex(otp),
		OtpExpiresAt: h.now().Add(otpTTL),
	}

	// replace any previous pending signup for this email+role; hard
	// delete, or the unique (email, role) index would block the retry
	h.db.Unscoped().Where("email = ? AND role = ?", email, role).Delete(&models.SignupPending{})
	if err := h.db.Create(&pending).Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Could not start signup. Please try again.")
		return
	}

	h.mailer.SendOTP(email, otp)

	utils.WriteData(w, http.StatusOK, map[string]string{
		"message": "Verification code sent to your email.",
	})
}

// VerifySignupOTP checks the emailed code and hands back a short-lived
// signup token that authorizes account creation.
func (h *Handler) VerifySignupOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Role  string `json:"role"`
		Otp   string `json:"otp"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	email := normalizeEmail(req.Email)
	role := strings.ToUpper(strings.TrimSpace(req.Role))
	otp := strings.TrimSpace(req.Otp)

	if otp == "" {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Missing otp.")
		return
	}

	var pending models.SignupPending
	if err := h.db.Where("email = ? AND role = ?", email, role).First(&pending).Error; err != nil {
		utils.WriteError(w, http.StatusNotFound, "No pending signup found. Please send OTP again.")
		return
	}

	if h.now().After(pending.OtpExpiresAt) {
		utils.WriteErrorCode(w, http.StatusBadRequest,
			"Code expired. Please resend OTP.", utils.CodeTokenExpired)
		return
	}
	if pending.Attempts >= maxOtpAttempts {
		utils.WriteError(w, http.StatusTooManyRequests, "Too many attempts. Please resend OTP.")
		return
	}

	if !hashEquals(pending.OtpHash, sha256Hex(otp)) {
		h.db.Model(&pending).Update("attempts", pending.Attempts+1)
		utils.WriteErrorCode(w, http.StatusBadRequest,
			"Invalid code.", utils.CodeTokenInvalid)
		return
	}

	signupToken := uuid.New().String()
	verifiedAt := h.now()
	tokenExpiry := verifiedAt.Add(signupTokenTTL)

	err := h.db.Model(&pending).Updates(map[string]interface{}{
		"verified_at":             verifiedAt,
		"signup_token_hash":       sha256Hex(signupToken),
		"signup_token_expires_at": tokenExpiry,
	}).Error
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Server error")
		return
	}

	utils.WriteData(w, http.StatusOK, map[string]string{
		"signup_token": signupToken,
	})
}

// CreateAccount finishes registration. Doctors and pharmacists start
// with admin verification PENDING and an empty credential submission;
// patients and admins are VERIFIED from the start.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FullName    string `json:"full_name"`
		Email       string `json:"email"`
		Password    string `json:"password"`
		Role        string `json:"role"`
		Phone       string `json:"phone"`
		SignupToken string `json:"signup_token"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	fullName := strings.TrimSpace(req.FullName)
	email := normalizeEmail(req.Email)
	role := strings.ToUpper(strings.TrimSpace(req.Role))
	signupToken := strings.TrimSpace(req.SignupToken)

	if fullName == "" {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Full name required.")
		return
	}
	if !validEmail(email) {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid email.")
		return
	}
	if !validRole(role) {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid role.")
		return
	}
	if len(req.Password) < 6 {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Password must be at least 6 characters.")
		return
	}
	if signupToken == "" {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Missing token.")
		return
	}

	var existing models.User
	if err := h.db.Where("email = ?", email).First(&existing).Error; err == nil {
		utils.WriteErrorCode(w, http.StatusConflict,
			"Email already registered. Please sign in.", utils.CodeEmailExists)
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		utils.WriteError(w, http.StatusInternalServerError, "Server error")
		return
	}

	var pending models.SignupPending
	if err := h.db.Where("email = ? AND role = ?", email, role).First(&pending).Error; err != nil {
		utils.WriteError(w, http.StatusNotFound, "No pending signup found. Please send OTP again.")
		return
	}
	if pending.VerifiedAt == nil {
		utils.WriteErrorCode(w, http.StatusForbidden,
			"Email not verified.", utils.CodeNotVerified)
		return
	}
	if pending.SignupTokenExpiresAt == nil || h.now().After(*pending.SignupTokenExpiresAt) {
		utils.WriteErrorCode(w, http.StatusBadRequest,
			"Token expired. Please resend OTP.", utils.CodeTokenExpired)
		return
	}
	if !hashEquals(pending.SignupTokenHash, sha256Hex(signupToken)) {
		utils.WriteErrorCode(w, http.StatusBadRequest,
			"Invalid token. Please verify OTP again.", utils.CodeTokenInvalid)
		return
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Could not create account. Please try again.")
		return
	}

	adminStatus := models.VerificationVerified
	if role == models.RoleDoctor || role == models.RolePharmacist {
		adminStatus = models.VerificationPending
	}

	user := models.User{
		FullName:                fullName,
		Email:                   email,
		PasswordHash:            string(passwordHash),
		Role:                    role,
		Phone:                   strings.TrimSpace(req.Phone),
		EmailVerified:           true,
		IsActive:                true,
		AdminVerificationStatus: adminStatus,
		ProfileCompleted:        false,
	}

	tx := h.db.Begin()
	if tx.Error != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Could not create account. Please try again.")
		return
	}

	if err := tx.Create(&user).Error; err != nil {
		tx.Rollback()
		if strings.Contains(err.Error(), "duplicate key") || strings.Contains(err.Error(), "UNIQUE constraint") {
			utils.WriteErrorCode(w, http.StatusConflict,
				"Email already registered. Please sign in.", utils.CodeEmailExists)
			return
		}
		utils.WriteError(w, http.StatusInternalServerError, "Could not create account. Please try again.")
		return
	}

	if role == models.RoleDoctor || role == models.RolePharmacist {
		verification := models.ProfessionalVerification{
			UserID: user.ID,
			Role:   role,
			Status: models.VerificationPending,
		}
		if err := tx.Create(&verification).Error; err != nil {
			tx.Rollback()
			utils.WriteError(w, http.StatusInternalServerError, "Could not create account. Please try again.")
			return
		}
	}

	if err := tx.Unscoped().Delete(&models.SignupPending{}, pending.ID).Error; err != nil {
		tx.Rollback()
		utils.WriteError(w, http.StatusInternalServerError, "Could not create account. Please try again.")
		return
	}

	if err := tx.Commit().Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Could not create account. Please try again.")
		return
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"message":                   "Account created successfully.",
		"user_id":                   user.ID,
		"admin_verification_status": adminStatus,
		"profile_completed":         false,
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	var user models.User
	if err := h.db.Where("email = ?", normalizeEmail(req.Email)).First(&user).Error; err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if !user.IsActive {
		utils.WriteError(w, http.StatusForbidden, "Account is deactivated")
		return
	}

	token, err := h.auth.GenerateToken(user.ID, user.Role)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Error generating access token")
		return
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"access_token":              token,
		"user_id":                   user.ID,
		"full_name":                 user.FullName,
		"role":                      user.Role,
		"admin_verification_status": user.AdminVerificationStatus,
		"profile_completed":         user.ProfileCompleted,
	})
}

// SendResetOTP mails a password-reset code. The response is identical
// whether or not the account exists.
func (h *Handler) SendResetOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil || !validEmail(normalizeEmail(req.Email)) {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid email.")
		return
	}
	email := normalizeEmail(req.Email)

	var user models.User
	if err := h.db.Where("email = ?", email).First(&user).Error; err == nil {
		otp := newOTP()
		h.db.Where("user_id = ?", user.ID).Delete(&models.PasswordResetToken{})
		reset := models.PasswordResetToken{
			UserID:    user.ID,
			TokenHash: sha256Hex(otp),
			ExpiresAt: h.now().Add(otpTTL),
		}
		if err := h.db.Create(&reset).Error; err == nil {
			h.mailer.SendOTP(email, otp)
		}
	}

	utils.WriteData(w, http.StatusOK, map[string]string{
		"message": "If the email is registered, a reset code has been sent.",
	})
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Otp      string `json:"otp"`
		Password string `json:"password"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if len(req.Password) < 6 {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Password must be at least 6 characters.")
		return
	}

	var user models.User
	if err := h.db.Where("email = ?", normalizeEmail(req.Email)).First(&user).Error; err != nil {
		utils.WriteErrorCode(w, http.StatusBadRequest, "Invalid code.", utils.CodeTokenInvalid)
		return
	}

	var reset models.PasswordResetToken
	if err := h.db.Where("user_id = ?", user.ID).First(&reset).Error; err != nil {
		utils.WriteErrorCode(w, http.StatusBadRequest, "Invalid code.", utils.CodeTokenInvalid)
		return
	}
	if h.now().After(reset.ExpiresAt) {
		utils.WriteErrorCode(w, http.StatusBadRequest,
			"Code expired. Please request a new one.", utils.CodeTokenExpired)
		return
	}
	if !hashEquals(reset.TokenHash, sha256Hex(strings.TrimSpace(req.Otp))) {
		utils.WriteErrorCode(w, http.StatusBadRequest, "Invalid code.", utils.CodeTokenInvalid)
		return
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Could not reset password.")
		return
	}

	if err := h.db.Model(&user).Update("password_hash", string(passwordHash)).Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Could not reset password.")
		return
	}
	h.db.Delete(&models.PasswordResetToken{}, reset.ID)

	utils.WriteData(w, http.StatusOK, map[string]string{
		"message": "Password reset successfully.",
	})
}
