package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

const (
	RolePatient    = "PATIENT"
	RoleDoctor     = "DOCTOR"
	RolePharmacist = "PHARMACIST"
	RoleAdmin      = "ADMIN"
)

const (
	VerificationPending  = "PENDING"
	VerificationVerified = "VERIFIED"
	VerificationRejected = "REJECTED"
)

type User struct {
	gorm.Model
	FullName                string `gorm:"column:full_name;size:255;not null" json:"full_name"`
	Email                   string `gorm:"column:email;size:255;not null;uniqueIndex" json:"email"`
	PasswordHash            string `gorm:"column:password_hash;size:255;not null" json:"-"`
	Role                    string `gorm:"column:role;size:50;not null" json:"role"`
	Phone                   string `gorm:"column:phone;size:20" json:"phone"`
	EmailVerified           bool   `gorm:"column:email_verified;default:false" json:"email_verified"`
	IsActive                bool   `gorm:"column:is_active;default:true" json:"is_active"`
	AdminVerificationStatus string `gorm:"column:admin_verification_status;size:20;not null;default:PENDING" json:"admin_verification_status"`
	ProfileCompleted        bool   `gorm:"column:profile_completed;default:false" json:"profile_completed"`

	DoctorProfile     *DoctorProfile     `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"doctor_profile,omitempty"`
	PharmacistProfile *PharmacistProfile `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"pharmacist_profile,omitempty"`
}

// IsBookableDoctor is the three-way gate checked before any slot is
// shown or booked.
func (u *User) IsBookableDoctor() bool {
	return u.Role == RoleDoctor && u.IsActive && u.AdminVerificationStatus == VerificationVerified
}

// SignupPending holds an in-flight registration: the emailed OTP and,
// once the OTP is verified, the short-lived signup token that authorizes
// account creation. Rows are deleted when the account is created.
type SignupPending struct {
	gorm.Model
	Email                string     `gorm:"column:email;size:255;not null;uniqueIndex:idx_signup_email_role" json:"email"`
	Role                 string     `gorm:"column:role;size:50;not null;uniqueIndex:idx_signup_email_role" json:"role"`
	OtpHash              string     `gorm:"column:otp_hash;size:64;not null" json:"-"`
	OtpExpiresAt         time.Time  `gorm:"column:otp_expires_at;not null" json:"-"`
	Attempts             int        `gorm:"column:attempts;default:0" json:"-"`
	VerifiedAt           *time.Time `gorm:"column:verified_at" json:"-"`
	SignupTokenHash      string     `gorm:"column:signup_token_hash;size:64" json:"-"`
	SignupTokenExpiresAt *time.Time `gorm:"column:signup_token_expires_at" json:"-"`
}

type DoctorProfile struct {
	gorm.Model
	UserID          uint   `gorm:"column:user_id;not null;uniqueIndex" json:"user_id"`
	Specialization  string `gorm:"column:specialization;size:100" json:"specialization"`
	SpecialtyKey    string `gorm:"column:specialty_key;size:50" json:"specialty_key"`
	PracticePlace   string `gorm:"column:practice_place;size:255" json:"practice_place"`
	LicenseNo       string `gorm:"column:license_no;size:100" json:"license_no"`
	ConsultationFee int    `gorm:"column:consultation_fee;default:0" json:"consultation_fee"`

	User *User `gorm:"foreignKey:UserID" json:"-"`
}

type PharmacistProfile struct {
	gorm.Model
	UserID        uint   `gorm:"column:user_id;not null;uniqueIndex" json:"user_id"`
	PharmacyName  string `gorm:"column:pharmacy_name;size:255;not null" json:"pharmacy_name"`
	DrugLicenseNo string `gorm:"column:drug_license_no;size:100" json:"drug_license_no"`
	VillageTown   string `gorm:"column:village_town;size:255" json:"village_town"`
	FullAddress   string `gorm:"column:full_address;size:500" json:"full_address"`

	User *User `gorm:"foreignKey:UserID" json:"-"`
}

// ProfessionalVerification tracks a doctor's or pharmacist's credential
// submission through the admin review queue. Document paths are stored
// as a postgres text array.
type ProfessionalVerification struct {
	gorm.Model
	UserID          uint           `gorm:"column:user_id;not null;uniqueIndex" json:"user_id"`
	Role            string         `gorm:"column:role;size:50;not null" json:"role"`
	Status          string         `gorm:"column:status;size:20;not null;default:PENDING" json:"status"`
	SubmittedAt     *time.Time     `gorm:"column:submitted_at" json:"submitted_at,omitempty"`
	RejectionReason string         `gorm:"column:rejection_reason;type:text" json:"rejection_reason,omitempty"`
	Documents       pq.StringArray `gorm:"column:documents;type:text[]" json:"documents,omitempty"`

	User *User `gorm:"foreignKey:UserID" json:"-"`
}

type PasswordResetToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"not null"`
	TokenHash string    `gorm:"size:64;not null"`
	ExpiresAt time.Time `gorm:"not null"`
}
