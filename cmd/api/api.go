package api

import (
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"github.com/sehatsethu/sehatsethu-server/cmd/utils"
	"github.com/sehatsethu/sehatsethu-server/service/appointment"
	"github.com/sehatsethu/sehatsethu-server/service/auth"
	"github.com/sehatsethu/sehatsethu-server/service/availability"
	notification "github.com/sehatsethu/sehatsethu-server/service/notifications"
	"github.com/sehatsethu/sehatsethu-server/service/pharmacy"
	"github.com/sehatsethu/sehatsethu-server/service/user"
	"github.com/sehatsethu/sehatsethu-server/service/ws"
)

type APIServer struct {
	address string
	db      *gorm.DB
	config  *utils.Config
}

func NewApiServer(address string, db *gorm.DB, config *utils.Config) *APIServer {
	return &APIServer{
		address: address,
		db:      db,
		config:  config,
	}
}

func (s *APIServer) Run() error {
	router := mux.NewRouter()
	subrouter := router.PathPrefix("/api/v1").Subrouter()

	authenticator := utils.NewAuthenticator(s.config)
	mailer := auth.NewMailer(s.config)

	wsHandler := ws.NewWSHandler(authenticator)
	wsHandler.RegisterRoutes(router)

	notificationHandler := notification.NewNotificationHandler(s.db, wsHandler.Hub(), authenticator)
	notificationHandler.RegisterRoutes(subrouter)

	authHandler := auth.NewHandler(s.db, authenticator, mailer)
	authHandler.RegisterRoutes(subrouter)

	userHandler := user.NewHandler(s.db, authenticator, notificationHandler)
	userHandler.RegisterRoutes(subrouter)

	availabilityHandler := availability.NewAvailabilityHandler(s.db, authenticator)
	availabilityHandler.RegisterRoutes(subrouter)

	appointmentHandler := appointment.NewAppointmentHandler(s.db, authenticator, notificationHandler)
	appointmentHandler.RegisterRoutes(subrouter)

	pharmacyHandler := pharmacy.NewHandler(s.db, authenticator, notificationHandler)
	pharmacyHandler.RegisterRoutes(subrouter)

	corsHandler := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	log.Println("Server running at", s.address)
	return http.ListenAndServe(s.address, corsHandler(router))
}
