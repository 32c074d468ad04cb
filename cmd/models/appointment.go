package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	AppointmentBooked    = "BOOKED"
	AppointmentConfirmed = "CONFIRMED"
	AppointmentCompleted = "COMPLETED"
	AppointmentCancelled = "CANCELLED"
)

// BlockingStatuses are the appointment statuses that occupy a slot.
// Cancelled or completed appointments never block, so the same time can
// be rebooked. The same set is used for calendar display and for the
// booking conflict check so the two paths stay consistent.
var BlockingStatuses = []string{"BOOKED", "CONFIRMED", "SCHEDULED", "APPROVED", "PENDING"}

type Appointment struct {
	gorm.Model
	PatientID       uint      `gorm:"column:patient_id;not null;index" json:"patient_id"`
	DoctorID        uint      `gorm:"column:doctor_id;not null;index:idx_doctor_sched" json:"doctor_id"`
	SpecialtyKey    string    `gorm:"column:specialty_key;size:50;not null" json:"specialty_key"`
	ConsultType     string    `gorm:"column:consult_type;size:10;not null" json:"consult_type"`
	Symptoms        *string   `gorm:"column:symptoms;type:text" json:"symptoms,omitempty"`
	FeeAmount       int       `gorm:"column:fee_amount;default:0" json:"fee_amount"`
	ScheduledAt     time.Time `gorm:"column:scheduled_at;not null;index:idx_doctor_sched" json:"scheduled_at"`
	DurationMinutes int       `gorm:"column:duration_minutes;not null;default:30" json:"duration_minutes"`
	Status          string    `gorm:"column:status;size:20;not null;default:BOOKED" json:"status"`
	PublicCode      string    `gorm:"column:public_code;size:40;not null;uniqueIndex" json:"public_code"`

	Patient *User `gorm:"foreignKey:PatientID" json:"patient,omitempty"`
	Doctor  *User `gorm:"foreignKey:DoctorID" json:"doctor,omitempty"`
}

// MigrateAppointmentIndexes creates the partial unique index that is the
// system's hard consistency constraint: no two active appointments for
// the same doctor may share scheduled_at. AutoMigrate cannot express a
// partial index, so it is created explicitly after the table migration.
func MigrateAppointmentIndexes(db *gorm.DB) error {
	return db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS uq_doctor_slot
		ON appointments (doctor_id, scheduled_at)
		WHERE status IN ('BOOKED','CONFIRMED','SCHEDULED','APPROVED','PENDING')
		  AND deleted_at IS NULL
	`).Error
}
