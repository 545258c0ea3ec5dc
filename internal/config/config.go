package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads environment variables from a .env file if present.
// Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

type Config struct {
	Addr             string
	IngestURL        string
	IngestPaths      []string
	StaleAfter       time.Duration
	KeyPrefix        string
	SetDeepMaxDepth  int
	PingInterval     time.Duration
	SubscriberBuffer int
	LogLevel         string
	LogFormat        string
	DatabaseURL      string
	ShutdownTimeout  time.Duration
}

// DefaultPaths are the upstream paths registered on every connect.
var DefaultPaths = []string{
	"ScoreBoard.CurrentGame.Clock(Period)",
	"ScoreBoard.CurrentGame.Clock(Jam)",
	"ScoreBoard.CurrentGame.Clock(Lineup)",
	"ScoreBoard.CurrentGame.Clock(Timeout)",
	"ScoreBoard.CurrentGame.Clock(Intermission)",
	"ScoreBoard.CurrentGame.Team(1)",
	"ScoreBoard.CurrentGame.Team(2)",
	"ScoreBoard.CurrentGame.Period",
	"ScoreBoard.CurrentGame.State",
	"ScoreBoard.CurrentGame.OfficialScore",
	"ScoreBoard.CurrentGame.OfficialReview",
	"ScoreBoard.CurrentGame.TimeoutOwner",
}

func Default() Config {
	return Config{
		Addr:             ":5174",
		IngestPaths:      append([]string(nil), DefaultPaths...),
		StaleAfter:       5 * time.Second,
		KeyPrefix:        "ScoreBoard.CurrentGame.",
		SetDeepMaxDepth:  2,
		PingInterval:     15 * time.Second,
		SubscriberBuffer: 16,
		LogLevel:         "info",
		LogFormat:        "json",
		ShutdownTimeout:  5 * time.Second,
	}
}

func Load() Config {
	cfg := Default()
	if raw := os.Getenv("PORT"); raw != "" {
		cfg.Addr = ":" + raw
	}
	if raw := os.Getenv("ADDR"); raw != "" {
		cfg.Addr = raw
	}
	if raw := os.Getenv("INGEST_URL"); raw != "" {
		cfg.IngestURL = strings.TrimSpace(raw)
	}
	if raw := os.Getenv("INGEST_PATHS"); raw != "" {
		cfg.IngestPaths = splitList(raw)
	}
	if raw := os.Getenv("INGEST_STALE_MS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.StaleAfter = time.Duration(value) * time.Millisecond
		}
	}
	if raw, ok := os.LookupEnv("KEY_PREFIX"); ok {
		cfg.KeyPrefix = raw
	}
	if raw := os.Getenv("SETDEEP_MAX_DEPTH"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.SetDeepMaxDepth = value
		}
	}
	if raw := os.Getenv("PING_INTERVAL_MS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.PingInterval = time.Duration(value) * time.Millisecond
		}
	}
	if raw := os.Getenv("SUBSCRIBER_BUFFER"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.SubscriberBuffer = value
		}
	}
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("LOG_FORMAT"); raw != "" {
		cfg.LogFormat = raw
	}
	if raw := os.Getenv("DATABASE_URL"); raw != "" {
		cfg.DatabaseURL = raw
	}
	if raw := os.Getenv("SHUTDOWN_TIMEOUT_MS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.ShutdownTimeout = time.Duration(value) * time.Millisecond
		}
	}
	return cfg
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
