package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gorm.io/gorm"

	"github.com/sehatsethu/sehatsethu-server/cmd/api"
	"github.com/sehatsethu/sehatsethu-server/cmd/models"
	"github.com/sehatsethu/sehatsethu-server/cmd/utils"
	"github.com/sehatsethu/sehatsethu-server/db"
)

func main() {
	config, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			runMigrations(config)
			return
		case "clear-db":
			runDatabaseClear(config)
			return
		default:
			log.Fatalf("Unknown command: %s", os.Args[1])
		}
	}

	startServer(config)
}

func openDB(config *utils.Config) *gorm.DB {
	DB, err := db.NewPSQLStorage(config.DatabaseURL)
	if err != nil {
		log.Fatalf("Database initialization error: %v", err)
	}
	return DB
}

func closeDB(DB *gorm.DB) {
	sqlDB, _ := DB.DB()
	sqlDB.Close()
	log.Println("Database connection closed")
}

func runMigrations(config *utils.Config) {
	DB := openDB(config)
	defer closeDB(DB)
	log.Println("Connected to the database for migrations")

	if err := performMigrations(DB); err != nil {
		log.Fatalf("Migration error: %v", err)
	}
	log.Println("Migrations completed successfully")
}

// migratedModels is ordered so that referenced tables exist before the
// tables that point at them.
var migratedModels = []struct {
	model interface{}
	name  string
}{
	{&models.User{}, "User"},
	{&models.SignupPending{}, "SignupPending"},
	{&models.DoctorProfile{}, "DoctorProfile"},
	{&models.PharmacistProfile{}, "PharmacistProfile"},
	{&models.ProfessionalVerification{}, "ProfessionalVerification"},
	{&models.PasswordResetToken{}, "PasswordResetToken"},
	{&models.DoctorAvailability{}, "DoctorAvailability"},
	{&models.Appointment{}, "Appointment"},
	{&models.InventoryItem{}, "InventoryItem"},
	{&models.MedicineRequest{}, "MedicineRequest"},
	{&models.Notification{}, "Notification"},
	{&models.Device{}, "Device"},
}

func performMigrations(DB *gorm.DB) error {
	log.Println("Starting database migrations...")
	for _, m := range migratedModels {
		log.Printf("Migrating %s table...", m.name)
		if err := DB.AutoMigrate(m.model); err != nil {
			return fmt.Errorf("error migrating %s table: %w", m.name, err)
		}
		log.Printf("%s migration successful", m.name)
	}

	// the partial unique index that backstops concurrent bookings
	if err := models.MigrateAppointmentIndexes(DB); err != nil {
		return fmt.Errorf("error creating appointment indexes: %w", err)
	}
	log.Println("Appointment indexes created")

	directories := []string{
		utils.DocumentPath,
	}
	for _, dir := range directories {
		if err := createDirectoryIfNotExist(dir); err != nil {
			log.Fatalf("Error creating directory %s: %v", dir, err)
		}
		log.Printf("Directory %s created/verified", dir)
	}

	log.Println("All migrations and directory setup completed successfully")
	return nil
}

func createDirectoryIfNotExist(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("could not create directory %s: %w", path, err)
		}
	}
	return nil
}

func startServer(config *utils.Config) {
	DB := openDB(config)
	defer closeDB(DB)
	log.Println("Connected to the database")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	server := api.NewApiServer(":"+config.ServerPort, DB, config)

	go func() {
		if err := server.Run(); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()
	log.Printf("Server running on port %s", config.ServerPort)

	<-quit
	log.Println("Shutting down server...")
}

func clearDatabase(DB *gorm.DB, tables []interface{}) error {
	if len(tables) == 0 {
		// dependents first, then users
		tables = []interface{}{
			&models.Appointment{},
			&models.DoctorAvailability{},
			&models.InventoryItem{},
			&models.MedicineRequest{},
			&models.Notification{},
			&models.Device{},
			&models.ProfessionalVerification{},
			&models.DoctorProfile{},
			&models.PharmacistProfile{},
			&models.PasswordResetToken{},
			&models.SignupPending{},
			&models.User{},
		}
	}

	log.Println("Dropping tables...")
	for _, table := range tables {
		if err := DB.Migrator().DropTable(table); err != nil {
			log.Printf("Warning dropping table %T: %v", table, err)
		} else {
			log.Printf("Table %T dropped", table)
		}
	}
	return nil
}

func runDatabaseClear(config *utils.Config) {
	DB := openDB(config)
	defer closeDB(DB)

	log.Println("Preparing to clear database...")

	var confirmation string
	fmt.Print("Are you sure you want to clear the database? (yes/no): ")
	fmt.Scanln(&confirmation)

	if confirmation != "yes" {
		log.Println("Database clearing cancelled.")
		return
	}

	var tableNames string
	fmt.Print("Enter table names to clear (comma separated) or leave blank to clear all: ")
	fmt.Scanln(&tableNames)

	var tables []interface{}
	if tableNames != "" {
		for _, table := range strings.Split(tableNames, ",") {
			switch strings.TrimSpace(table) {
			case "User":
				tables = append(tables, &models.User{})
			case "SignupPending":
				tables = append(tables, &models.SignupPending{})
			case "DoctorProfile":
				tables = append(tables, &models.DoctorProfile{})
			case "PharmacistProfile":
				tables = append(tables, &models.PharmacistProfile{})
			case "ProfessionalVerification":
				tables = append(tables, &models.ProfessionalVerification{})
			case "PasswordResetToken":
				tables = append(tables, &models.PasswordResetToken{})
			case "DoctorAvailability":
				tables = append(tables, &models.DoctorAvailability{})
			case "Appointment":
				tables = append(tables, &models.Appointment{})
			case "InventoryItem":
				tables = append(tables, &models.InventoryItem{})
			case "MedicineRequest":
				tables = append(tables, &models.MedicineRequest{})
			case "Notification":
				tables = append(tables, &models.Notification{})
			case "Device":
				tables = append(tables, &models.Device{})
			default:
				log.Printf("Unknown table: %s", table)
			}
		}
	}

	if err := clearDatabase(DB, tables); err != nil {
		log.Fatalf("Error clearing database: %v", err)
	}

	log.Println("Database cleared successfully")
}
