package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// KioskConfig 终端代理配置
type KioskConfig struct {
	APIBaseURL   string
	DeviceID     string
	Username     string
	Password     string
	DBPath       string
	SyncInterval time.Duration
	HTTPTimeout  time.Duration
	Debug        bool
}

// LoadKiosk 加载终端代理配置
func LoadKiosk() (*KioskConfig, error) {
	_ = godotenv.Load()

	cfg := &KioskConfig{
		APIBaseURL:   getEnv("KIOSK_API_URL", "http://localhost:8123"),
		DeviceID:     getEnv("KIOSK_DEVICE_ID", ""),
		Username:     getEnv("KIOSK_USERNAME", ""),
		Password:     getEnv("KIOSK_PASSWORD", ""),
		DBPath:       getEnv("KIOSK_DB_PATH", defaultKioskDBPath()),
		SyncInterval: getEnvDuration("KIOSK_SYNC_INTERVAL", 30*time.Second),
		HTTPTimeout:  getEnvDuration("KIOSK_HTTP_TIMEOUT", 10*time.Second),
		Debug:        getEnvBool("DEBUG", false),
	}

	return cfg, nil
}

func defaultKioskDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "local.db"
	}
	return filepath.Join(home, ".regnido", "local.db")
}
