package models

import (
	"gorm.io/gorm"
)

const (
	StockIn  = "IN_STOCK"
	StockLow = "LOW_STOCK"
	StockOut = "OUT_OF_STOCK"
)

// InventoryItem is one medicine row in a pharmacist's stock list.
// (pharmacist, medicine, strength) is unique; re-submitting the same
// medicine updates quantity and reorder level in place.
type InventoryItem struct {
	gorm.Model
	PharmacistUserID uint   `gorm:"column:pharmacist_user_id;not null;uniqueIndex:idx_pharm_medicine" json:"pharmacist_user_id"`
	MedicineName     string `gorm:"column:medicine_name;size:255;not null;uniqueIndex:idx_pharm_medicine" json:"medicine_name"`
	Strength         string `gorm:"column:strength;size:50;not null;default:'';uniqueIndex:idx_pharm_medicine" json:"strength"`
	Quantity         int    `gorm:"column:quantity;not null;default:0" json:"quantity"`
	ReorderLevel     int    `gorm:"column:reorder_level;not null;default:0" json:"reorder_level"`

	Pharmacist *User `gorm:"foreignKey:PharmacistUserID" json:"-"`
}

func (InventoryItem) TableName() string {
	return "pharmacy_inventory"
}

// StockStatus derives the display status from quantity vs reorder level.
func (i *InventoryItem) StockStatus() string {
	switch {
	case i.Quantity <= 0:
		return StockOut
	case i.Quantity <= i.ReorderLevel:
		return StockLow
	default:
		return StockIn
	}
}

// MedicineRequest records a patient asking a pharmacy about a medicine;
// surfaced on the pharmacist dashboard as recent requests.
type MedicineRequest struct {
	gorm.Model
	PatientUserID    uint   `gorm:"column:patient_user_id;not null" json:"patient_user_id"`
	PharmacistUserID uint   `gorm:"column:pharmacist_user_id;not null;index" json:"pharmacist_user_id"`
	MedicineQuery    string `gorm:"column:medicine_query;size:255;not null" json:"medicine_query"`

	Patient *User `gorm:"foreignKey:PatientUserID" json:"-"`
}
