package utils

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// LoadEnv loads a .env file if one exists. Missing files are fine; the
// engine usually runs embedded in an app that already has its environment.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Println("ℹ️  No .env file found, continuing...")
	}
}

// DatabaseURL returns DATABASE_URL from the environment, or "" if unset.
func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}
