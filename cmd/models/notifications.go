package models

import (
	"gorm.io/gorm"
)

// Notification is an in-app message row. Delivery beyond the insert
// (push, websocket) is best effort and never blocks the producing flow.
type Notification struct {
	gorm.Model
	UserID uint   `gorm:"column:user_id;not null;index" json:"user_id"`
	Title  string `gorm:"column:title;size:255;not null" json:"title"`
	Body   string `gorm:"column:body;type:text;not null" json:"body"`
	IsRead bool   `gorm:"column:is_read;default:false" json:"is_read"`
}

// Device holds an Expo push token registered by the mobile app.
type Device struct {
	gorm.Model
	UserID     uint   `gorm:"column:user_id;not null;index;uniqueIndex:idx_token_user" json:"user_id"`
	Token      string `gorm:"column:token;not null;uniqueIndex:idx_token_user" json:"token"`
	DeviceType string `gorm:"column:device_type;type:varchar(50)" json:"device_type"`
	DeviceName string `gorm:"column:device_name;type:varchar(100)" json:"device_name,omitempty"`
}
