package env

import (
	"os"

	"github.com/gofiber/fiber/v2/log"
	"github.com/joho/godotenv"
)

// Env holds the values read from the .env file. Keys the file does not set
// fall back to the process environment.
var Env map[string]string

func GetEnv(key, def string) string {
	if val, ok := Env[key]; ok {
		return val
	}
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// SetupEnvFile loads the first readable .env file. ENV_FILE replaces the
// search entirely; with no file at all the process environment carries the
// configuration, which is the normal case in containers.
func SetupEnvFile() {
	candidates := []string{
		".env",                // current directory
		"../../.env",          // from cmd/focustape to project root
		"/etc/focustape/.env", // system-wide install
	}
	if path := os.Getenv("ENV_FILE"); path != "" {
		candidates = []string{path}
	}

	for _, candidate := range candidates {
		values, err := godotenv.Read(candidate)
		if err != nil {
			continue
		}
		Env = values
		return
	}

	Env = map[string]string{}
	log.Warn("no .env file found, relying on the process environment")
}

func IsDev() bool {
	return GetEnv("APP_ENV", "prod") == "dev"
}
