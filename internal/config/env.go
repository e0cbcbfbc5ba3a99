package config

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// envFiles are loaded in order. Earlier files and the process environment win.
var envFiles = []string{".env", ".env.local"}

// loadEnvFiles loads the env files that exist without overriding variables that are
// already set.
func loadEnvFiles() {
	for _, path := range envFiles {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			slog.Warn("Failed to load env file", "path", path, "error", err)
			continue
		}
		slog.Debug("Loaded environment variables", "path", path)
	}
}
