package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Config holds the application's configuration values.
type Config struct {
	AppName string `json:"appname"`
	AppEnv  string `json:"appenv"`
	AppPort uint16 `json:"appport"`
	GinMode string `json:"ginmode"`
	DBHost  string `json:"dbhost"`
	DBPort  uint16 `json:"dbport"`
	DBName  string `json:"dbname"`
	DBUSER  string `json:"dbuser"`
	DBPass  string `json:"dbpass"`

	JWTSecret string `json:"-"`
	APIToken  string `json:"-"`

	AdminName     string `json:"admin_name"`
	AdminEmail    string `json:"admin_email"`
	AdminPassword string `json:"-"`

	MongoURI      string `json:"mongo_uri"`
	MongoDatabase string `json:"mongo_database"`

	OpenAIKey     string `json:"-"`
	OpenAIModel   string `json:"openai_model"`
	OpenAIBaseURL string `json:"openai_base_url"`

	TwilioAccountSID string `json:"-"`
	TwilioAuthToken  string `json:"-"`
	TwilioFrom       string `json:"twilio_from"`

	DefaultPhoneRegion string   `json:"default_phone_region"`
	CORSOrigins        []string `json:"cors_origins"`
	LogLevel           string   `json:"log_level"`
	LogFile            string   `json:"log_file"`
	GeoIPDBPath        string   `json:"geoip_db_path"`

	BillingGraceDays int           `json:"billing_grace_days"`
	ReminderLead     time.Duration `json:"reminder_lead"`
	ReminderInterval time.Duration `json:"reminder_interval"`
	SessionTTL       time.Duration `json:"session_ttl"`
}

var config *Config
var once sync.Once

// LoadConfig loads the environment variables from a .env file, and returns a singleton Config instance.
func LoadConfig() *Config {
	once.Do(func() {
		// A missing .env is normal in containers and tests.
		if err := godotenv.Load(); err != nil {
			log.Printf("config: no .env file loaded: %v", err)
		}

		appPort, _ := strconv.ParseUint(os.Getenv("APPPORT"), 10, 16)
		if appPort == 0 {
			appPort = 8080
		}
		dbPort, _ := strconv.ParseUint(os.Getenv("DBPORT"), 10, 16)

		config = &Config{
			AppName: os.Getenv("APPNAME"),
			AppEnv:  os.Getenv("APPENV"),
			AppPort: uint16(appPort),
			GinMode: os.Getenv("GINMODE"),
			DBHost:  os.Getenv("DBHOST"),
			DBPort:  uint16(dbPort),
			DBName:  os.Getenv("DBNAME"),
			DBUSER:  os.Getenv("DBUSER"),
			DBPass:  os.Getenv("DBPASS"),

			JWTSecret: os.Getenv("JWTSECRET"),
			APIToken:  os.Getenv("APITOKEN"),

			AdminName:     envOrDefault("ADMIN_NAME", "Administrator"),
			AdminEmail:    os.Getenv("ADMIN_EMAIL"),
			AdminPassword: os.Getenv("ADMIN_PASSWORD"),

			MongoURI:      os.Getenv("MONGO_URI"),
			MongoDatabase: envOrDefault("MONGO_DATABASE", "physio"),

			OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
			OpenAIModel:   envOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
			OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),

			TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
			TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
			TwilioFrom:       os.Getenv("TWILIO_FROM"),

			DefaultPhoneRegion: envOrDefault("DEFAULT_PHONE_REGION", "ID"),
			CORSOrigins:        splitList(os.Getenv("CORS_ORIGINS")),
			LogLevel:           envOrDefault("LOG_LEVEL", "info"),
			LogFile:            os.Getenv("LOG_FILE"),
			GeoIPDBPath:        os.Getenv("GEOIP_DB_PATH"),

			BillingGraceDays: envCount("BILLING_GRACE_DAYS", 7),
			ReminderLead:     time.Duration(envInt("REMINDER_LEAD_HOURS", 24)) * time.Hour,
			ReminderInterval: time.Duration(envInt("REMINDER_INTERVAL_MINUTES", 15)) * time.Minute,
			SessionTTL:       time.Duration(envInt("SESSION_TTL_HOURS", 8)) * time.Hour,
		}
	})
	return config
}

// IsTest reports whether the application runs with APPENV=test.
func (c *Config) IsTest() bool {
	return c != nil && c.AppEnv == "test"
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// envCount is envInt for settings where 0 is meaningful: only an unset or
// malformed value falls back.
func envCount(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ConnectMySQL establishes a connection to a MySQL database using the configuration values.
// In the test environment a shared in-memory sqlite database is opened instead.
func ConnectMySQL() (*gorm.DB, error) {
	cfg := LoadConfig()
	if cfg.IsTest() {
		dsn := fmt.Sprintf("file:physio_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
		return gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC", cfg.DBUSER, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	return db, nil
}
