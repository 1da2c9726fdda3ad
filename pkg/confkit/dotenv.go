package confkit

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/joho/godotenv"
)

var dotenvOnce sync.Once

// LoadDotenvOnce loads a .env file exactly once per process: ENV_FILE if
// set, otherwise every .env found walking up from this source file to the
// repository root. Existing environment variables win unless
// DOTENV_OVERLOAD=1; NO_DOTENV=1 disables loading entirely.
func LoadDotenvOnce() {
	dotenvOnce.Do(func() {
		if os.Getenv("NO_DOTENV") == "1" {
			return
		}
		load := godotenv.Load
		if os.Getenv("DOTENV_OVERLOAD") == "1" {
			load = godotenv.Overload
		}

		if envFile := os.Getenv("ENV_FILE"); envFile != "" {
			_ = load(envFile)
			return
		}

		_, file, _, ok := runtime.Caller(0)
		if !ok {
			_ = load(".env")
			return
		}
		dir := filepath.Dir(file)
		for i := 0; i < 8; i++ {
			_ = load(filepath.Join(dir, ".env"))
			if fileExists(filepath.Join(dir, "go.mod")) || fileExists(filepath.Join(dir, ".git")) {
				return
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				return
			}
			dir = parent
		}
	})
}
