package pharmacy

import (
	"net/http"
	"strconv"
	"strings"

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
}

func NewHandler(db *gorm.DB, auth *utils.Authenticator, notifier Notifier) *Handler {
	return &Handler{db: db, auth: auth, notifier: notifier}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/pharmacists/inventory",
		h.auth.RequireRole(models.RolePharmacist, h.UpsertInventory)).Methods("POST")
	router.HandleFunc("/pharmacists/inventory/list",
		h.auth.RequireRole(models.RolePharmacist, h.ListInventory)).Methods("POST")
	router.HandleFunc("/pharmacists/dashboard",
		h.auth.RequireRole(models.RolePharmacist, h.Dashboard)).Methods("GET")
	router.HandleFunc("/patients/medicines/search",
		h.auth.RequireRole(models.RolePatient, h.SearchMedicines)).Methods("GET")
	router.HandleFunc("/patients/pharmacies/{pharmacistId}",
		h.auth.RequireRole(models.RolePatient, h.PharmacyDetail)).Methods("GET")
	router.HandleFunc("/patients/medicines/request",
		h.auth.RequireRole(models.RolePatient, h.RequestMedicine)).Methods("POST")
}

func inventoryJSON(item *models.InventoryItem) map[string]interface{} {
	return map[string]interface{}{
		"id":           item.ID,
		"medicineName": item.MedicineName,
		"strength":     item.Strength,
		"quantity":     item.Quantity,
		"reorderLevel": item.ReorderLevel,
		"status":       item.StockStatus(),
	}
}

// UpsertInventory creates or updates one medicine row in the caller's
// stock list, keyed on (medicine, strength).
func (h *Handler) UpsertInventory(w http.ResponseWriter, r *http.Request) {
	uid, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		MedicineName string `json:"medicineName"`
		Strength     string `json:"strength"`
		Quantity     int    `json:"quantity"`
		ReorderLevel int    `json:"reorderLevel"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	name := strings.TrimSpace(req.MedicineName)
	if name == "" {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Medicine name required.")
		return
	}
	if req.Quantity < 0 {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Quantity cannot be negative.")
		return
	}
	if req.ReorderLevel < 0 {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Reorder level cannot be negative.")
		return
	}

	item := models.InventoryItem{
		PharmacistUserID: uid,
		MedicineName:     name,
		Strength:         strings.TrimSpace(req.Strength),
		Quantity:         req.Quantity,
		ReorderLevel:     req.ReorderLevel,
	}

	err = h.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "pharmacist_user_id"}, {Name: "medicine_name"}, {Name: "strength"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "reorder_level", "updated_at"}),
	}).Create(&item).Error
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Could not save inventory item.")
		return
	}

	utils.WriteData(w, http.StatusOK, inventoryJSON(&item))
}

// ListInventory returns the caller's stock list, optionally filtered by
// a search string or stock status.
func (h *Handler) ListInventory(w http.ResponseWriter, r *http.Request) {
	uid, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Search string `json:"search"`
		Status string `json:"status"`
	}
	// body is optional; an empty request lists everything
	_ = utils.DecodeJSON(r, &req)

	query := h.db.Where("pharmacist_user_id = ?", uid).
		Order("medicine_name ASC, strength ASC")
	if search := strings.TrimSpace(req.Search); search != "" {
		query = query.Where("medicine_name ILIKE ?", "%"+search+"%")
	}

	var items []models.InventoryItem
	if err := query.Find(&items).Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Could not load inventory.")
		return
	}

	status := strings.ToUpper(strings.TrimSpace(req.Status))
	out := make([]map[string]interface{}, 0, len(items))
	for i := range items {
		if status != "" && items[i].StockStatus() != status {
			continue
		}
		out = append(out, inventoryJSON(&items[i]))
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"items": out,
		"total": len(out),
	})
}

// Dashboard aggregates the pharmacist home screen: stock totals, low
// stock alerts and recent patient requests.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	uid, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var profile models.PharmacistProfile
	pharmacyName := ""
	if err := h.db.Where("user_id = ?", uid).First(&profile).Error; err == nil {
		pharmacyName = profile.PharmacyName
	}

	var items []models.InventoryItem
	if err := h.db.Where("pharmacist_user_id = ?", uid).Find(&items).Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Could not load dashboard.")
		return
	}

	totalStock := 0
	lowStock := make([]map[string]interface{}, 0)
	outOfStock := 0
	for i := range items {
		totalStock += items[i].Quantity
		switch items[i].StockStatus() {
		case models.StockLow:
			lowStock = append(lowStock, inventoryJSON(&items[i]))
		case models.StockOut:
			outOfStock++
		}
	}
	alerts := len(lowStock) + outOfStock
	if len(lowStock) > 3 {
		lowStock = lowStock[:3]
	}

	var requests []models.MedicineRequest
	if err := h.db.Where("pharmacist_user_id = ?", uid).
		Order("created_at DESC").Limit(2).Find(&requests).Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Failed to load medicine requests")
		return
	}

	recent := make([]map[string]interface{}, 0, len(requests))
	for _, req := range requests {
		var patient models.User
		patientName := "A patient"
		if err := h.db.First(&patient, req.PatientUserID).Error; err == nil {
			patientName = patient.FullName
		}
		recent = append(recent, map[string]interface{}{
			"id":          req.ID,
			"patientName": patientName,
			"medicine":    req.MedicineQuery,
			"requestedAt": req.CreatedAt,
		})
	}

	var unread int64
	h.db.Model(&models.Notification{}).Where("user_id = ? AND is_read = ?", uid, false).Count(&unread)

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"pharmacyName":   pharmacyName,
		"unreadCount":    unread,
		"totalStock":     totalStock,
		"alerts":         alerts,
		"lowStock":       lowStock,
		"recentRequests": recent,
	})
}

type medicineMatch struct {
	PharmacistUserID uint
	PharmacyName     string
	VillageTown      string
	MedicineName     string
	Strength         string
	Quantity         int
	ReorderLevel     int
}

// SearchMedicines finds, for each matching medicine, the single best
// pharmacy to show: verified pharmacists only, in-stock rows preferred,
// highest quantity first. One row per (medicine, strength) via postgres
// DISTINCT ON.
func (h *Handler) SearchMedicines(w http.ResponseWriter, r *http.Request) {
	if _, err := utils.GetUserIDFromContext(r); err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	search := strings.TrimSpace(r.URL.Query().Get("q"))
	if search == "" {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Missing search query.")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 50 {
		limit = 50
	}

	var rows []medicineMatch
	err := h.db.Raw(`
		SELECT DISTINCT ON (pi.medicine_name, pi.strength)
			pi.pharmacist_user_id,
			pp.pharmacy_name,
			pp.village_town,
			pi.medicine_name,
			pi.strength,
			pi.quantity,
			pi.reorder_level
		FROM pharmacy_inventory pi
		JOIN users u ON u.id = pi.pharmacist_user_id
		JOIN pharmacist_profiles pp ON pp.user_id = pi.pharmacist_user_id
		WHERE u.role = ?
		  AND u.is_active = TRUE
		  AND u.admin_verification_status = ?
		  AND u.deleted_at IS NULL
		  AND pi.deleted_at IS NULL
		  AND pi.quantity > 0
		  AND pi.medicine_name ILIKE ?
		ORDER BY pi.medicine_name, pi.strength, pi.quantity DESC
		LIMIT ?
	`, models.RolePharmacist, models.VerificationVerified, "%"+search+"%", limit).Scan(&rows).Error
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Search failed.")
		return
	}

	results := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		item := models.InventoryItem{Quantity: row.Quantity, ReorderLevel: row.ReorderLevel}
		results = append(results, map[string]interface{}{
			"medicineName": row.MedicineName,
			"strength":     row.Strength,
			"status":       item.StockStatus(),
			"pharmacy": map[string]interface{}{
				"pharmacistId": row.PharmacistUserID,
				"name":         row.PharmacyName,
				"villageTown":  row.VillageTown,
			},
		})
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"total":   len(results),
	})
}

// PharmacyDetail shows one verified pharmacy and its in-stock medicines
// to a patient.
func (h *Handler) PharmacyDetail(w http.ResponseWriter, r *http.Request) {
	if _, err := utils.GetUserIDFromContext(r); err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	vars := mux.Vars(r)
	pharmacistID, err := strconv.ParseUint(vars["pharmacistId"], 10, 32)
	if err != nil {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid pharmacy id")
		return
	}

	var pharmacist models.User
	err = h.db.Preload("PharmacistProfile").
		Where("id = ? AND role = ? AND is_active = ? AND admin_verification_status = ?",
			uint(pharmacistID), models.RolePharmacist, true, models.VerificationVerified).
		First(&pharmacist).Error
	if err != nil {
		utils.WriteError(w, http.StatusNotFound, "Pharmacy not found")
		return
	}

	var items []models.InventoryItem
	if err := h.db.Where("pharmacist_user_id = ? AND quantity > 0", pharmacist.ID).
		Order("medicine_name ASC").Find(&items).Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Failed to load inventory")
		return
	}

	medicines := make([]map[string]interface{}, 0, len(items))
	for i := range items {
		medicines = append(medicines, map[string]interface{}{
			"medicineName": items[i].MedicineName,
			"strength":     items[i].Strength,
			"status":       items[i].StockStatus(),
		})
	}

	detail := map[string]interface{}{
		"pharmacistId": pharmacist.ID,
		"medicines":    medicines,
	}
	if p := pharmacist.PharmacistProfile; p != nil {
		detail["name"] = p.PharmacyName
		detail["villageTown"] = p.VillageTown
		detail["fullAddress"] = p.FullAddress
	}

	utils.WriteData(w, http.StatusOK, detail)
}

// RequestMedicine records a patient asking a pharmacy about a medicine
// and notifies the pharmacist.
func (h *Handler) RequestMedicine(w http.ResponseWriter, r *http.Request) {
	uid, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		PharmacistID uint   `json:"pharmacistId"`
		Medicine     string `json:"medicine"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	medicine := strings.TrimSpace(req.Medicine)
	if medicine == "" {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Medicine name required.")
		return
	}
	if req.PharmacistID == 0 {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Missing pharmacistId.")
		return
	}

	var pharmacist models.User
	err = h.db.Where("id = ? AND role = ? AND is_active = ? AND admin_verification_status = ?",
		req.PharmacistID, models.RolePharmacist, true, models.VerificationVerified).
		First(&pharmacist).Error
	if err != nil {
		utils.WriteError(w, http.StatusNotFound, "Pharmacy not found")
		return
	}

	request := models.MedicineRequest{
		PatientUserID:    uid,
		PharmacistUserID: pharmacist.ID,
		MedicineQuery:    medicine,
	}
	if err := h.db.Create(&request).Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Could not send request.")
		return
	}

	h.notifier.Notify(pharmacist.ID, "Medicine request",
		"A patient is asking about "+medicine+".")

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"requestId": request.ID,
		"message":   "Request sent to pharmacy.",
	})
}
