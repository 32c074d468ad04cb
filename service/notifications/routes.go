package notification

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"gorm.io/gorm"

	"github.com/sehatsethu/sehatsethu-server/cmd/models"
	"github.com/sehatsethu/sehatsethu-server/cmd/utils"
	"github.com/sehatsethu/sehatsethu-server/service/ws"
)

// NotificationHandler stores in-app notifications and relays them to
// Expo push and any live websocket connections.
type NotificationHandler struct {
	db         *gorm.DB
	expoClient *expo.PushClient
	hub        *ws.Hub
	auth       *utils.Authenticator
}

func NewNotificationHandler(db *gorm.DB, hub *ws.Hub, auth *utils.Authenticator) *NotificationHandler {
	return &NotificationHandler{
		db:         db,
		expoClient: expo.NewPushClient(nil),
		hub:        hub,
		auth:       auth,
	}
}

func (h *NotificationHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/devices", h.auth.Middleware(h.RegisterDevice)).Methods("POST")
	router.HandleFunc("/notifications", h.auth.Middleware(h.ListNotifications)).Methods("GET")
	router.HandleFunc("/notifications/read", h.auth.Middleware(h.MarkRead)).Methods("POST")
}

// Notify persists an in-app notification and pushes it out. Every
// failure is logged and swallowed: notification delivery must never
// fail or unwind the flow that produced it.
func (h *NotificationHandler) Notify(userID uint, title, body string) {
	n := models.Notification{UserID: userID, Title: title, Body: body}
	if err := h.db.Create(&n).Error; err != nil {
		log.Printf("notification: store for user %d: %v", userID, err)
		return
	}

	if h.hub != nil {
		h.hub.Push(userID, map[string]interface{}{
			"type":  "notification",
			"id":    n.ID,
			"title": title,
			"body":  body,
		})
	}

	go h.pushToDevices(userID, title, body)
}

func (h *NotificationHandler) pushToDevices(userID uint, title, body string) {
	var devices []models.Device
	if err := h.db.Where("user_id = ?", userID).Find(&devices).Error; err != nil {
		log.Printf("notification: load devices for user %d: %v", userID, err)
		return
	}

	for _, device := range devices {
		token, err := expo.NewExponentPushToken(device.Token)
		if err != nil {
			log.Printf("notification: invalid push token for user %d: %v", userID, err)
			continue
		}

		resp, err := h.expoClient.Publish(&expo.PushMessage{
			To:       []expo.ExponentPushToken{token},
			Title:    title,
			Body:     body,
			Sound:    "default",
			Priority: expo.DefaultPriority,
		})
		if err != nil {
			log.Printf("notification: push to user %d: %v", userID, err)
			continue
		}
		if err := resp.ValidateResponse(); err != nil {
			log.Printf("notification: push rejected for user %d: %v", userID, err)
		}
	}
}

func (h *NotificationHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Token      string `json:"token"`
		DeviceType string `json:"device_type"`
		DeviceName string `json:"device_name"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if req.Token == "" {
		utils.WriteError(w, http.StatusUnprocessableEntity, "token required")
		return
	}
	if _, err := expo.NewExponentPushToken(req.Token); err != nil {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid Expo push token format")
		return
	}

	var device models.Device
	result := h.db.Where("token = ? AND user_id = ?", req.Token, userID).First(&device)
	if result.Error == nil {
		device.DeviceType = req.DeviceType
		device.DeviceName = req.DeviceName
		if err := h.db.Save(&device).Error; err != nil {
			utils.WriteError(w, http.StatusInternalServerError, "Error updating device")
			return
		}
	} else {
		device = models.Device{
			UserID:     userID,
			Token:      req.Token,
			DeviceType: req.DeviceType,
			DeviceName: req.DeviceName,
		}
		if err := h.db.Create(&device).Error; err != nil {
			utils.WriteError(w, http.StatusInternalServerError, "Error registering device")
			return
		}
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"message": "Device registered successfully",
		"device":  device,
	})
}

func (h *NotificationHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 50
	}

	var notifications []models.Notification
	if err := h.db.Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).Find(&notifications).Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Error retrieving notifications")
		return
	}

	var unread int64
	h.db.Model(&models.Notification{}).Where("user_id = ? AND is_read = ?", userID, false).Count(&unread)

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"notifications": notifications,
		"unread":        unread,
	})
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		IDs []uint `json:"ids"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	query := h.db.Model(&models.Notification{}).Where("user_id = ?", userID)
	if len(req.IDs) > 0 {
		query = query.Where("id IN ?", req.IDs)
	}
	if err := query.Update("is_read", true).Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Error updating notifications")
		return
	}

	utils.WriteData(w, http.StatusOK, map[string]string{
		"message": "Notifications marked read",
	})
}
