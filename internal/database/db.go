// Package database holds the optional postgres archive of finished
// sessions. The in-memory stores stay authoritative; rows here are a
// durable copy written once per session end.
package database

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// DB is the shared connection pool for the transcript archive
var DB *sql.DB

// Config holds archive database configuration
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// Init opens the archive connection pool
func Init() error {
	config := Config{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", "live_transcript"),
		Password: getEnv("DB_PASSWORD", "live_transcript_pass"),
		DBName:   getEnv("DB_NAME", "live_transcript"),
	}

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		config.Host,
		config.Port,
		config.User,
		config.Password,
		config.DBName,
	)

	var err error
	DB, err = sql.Open("postgres", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// The archive writes one burst of rows per session end, so a small
	// pool suffices; idle connections are recycled between sessions.
	DB.SetMaxOpenConns(4)
	DB.SetMaxIdleConns(2)
	DB.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	if err = DB.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Archive database connected (%s:%s/%s)", config.Host, config.Port, config.DBName)
	return nil
}

// Close closes the archive connection pool
func Close() error {
	if DB != nil {
		return DB.Close()
	}
	return nil
}

// HealthCheck verifies database connectivity
func HealthCheck() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	return DB.Ping()
}

// getEnv gets environment variable with fallback default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
