package models

import (
	"gorm.io/gorm"
)

// DoctorAvailability is one weekly recurring rule per (doctor, weekday).
// Times are minute-precision "HH:MM" strings. DayOfWeek follows ISO:
// 1=Monday .. 7=Sunday. A disabled rule (or an invalid window) yields
// zero bookable slots for that weekday.
type DoctorAvailability struct {
	gorm.Model
	UserID    uint   `gorm:"column:user_id;not null;uniqueIndex:idx_doctor_day" json:"user_id"`
	DayOfWeek int    `gorm:"column:day_of_week;not null;uniqueIndex:idx_doctor_day" json:"day_of_week"`
	Enabled   bool   `gorm:"column:enabled;default:false" json:"enabled"`
	StartTime string `gorm:"column:start_time;size:5;not null;default:09:00" json:"start_time"`
	EndTime   string `gorm:"column:end_time;size:5;not null;default:17:00" json:"end_time"`

	User *User `gorm:"foreignKey:UserID" json:"-"`
}

func (DoctorAvailability) TableName() string {
	return "doctor_availability"
}
