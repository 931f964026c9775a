package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries everything the server daemon needs. Values come from the
// environment with lenient parsing; a bad value falls back to its default.
type Config struct {
	Addr        string // primary protocol listener
	ChatChannel string // channel name subject to dedup; empty disables
	MetricsAddr string // promhttp listener; empty disables
	DataDir     string // users.bin / trigger.bin location

	// Update distribution: four single-shot file listeners.
	SoundsAddr   string
	TriggersAddr string
	ClientAddr   string
	LibAddr      string
	SoundsFile   string
	TriggersFile string
	ClientFile   string
	LibFile      string

	DefaultAdmin bool // force the bootstrap Admin account

	OutBuffer    int           // outbound queue capacity
	InBuffer     int           // inbound queue capacity
	PresenceTick time.Duration // presence monitor period
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getBool(key string) bool {
	v, err := strconv.ParseBool(getEnv(key, "false"))
	return err == nil && v
}

func Load() *Config {
	return &Config{
		Addr:        getEnv("PARTYSYNC_ADDR", ":53729"),
		ChatChannel: getEnv("PARTYSYNC_CHAT_CHANNEL", ""),
		MetricsAddr: getEnv("PARTYSYNC_METRICS_ADDR", ""),
		DataDir:     getEnv("PARTYSYNC_DATA_DIR", "."),

		SoundsAddr:   getEnv("PARTYSYNC_SOUNDS_ADDR", ":53730"),
		TriggersAddr: getEnv("PARTYSYNC_TRIGGERS_ADDR", ":53731"),
		ClientAddr:   getEnv("PARTYSYNC_CLIENT_ADDR", ":53732"),
		LibAddr:      getEnv("PARTYSYNC_LIB_ADDR", ":53734"),
		SoundsFile:   getEnv("PARTYSYNC_SOUNDS_FILE", "sounds.zip"),
		TriggersFile: getEnv("PARTYSYNC_TRIGGERS_FILE", "ptrigger.bin"),
		ClientFile:   getEnv("PARTYSYNC_CLIENT_FILE", "client.zip"),
		LibFile:      getEnv("PARTYSYNC_LIB_FILE", "client_lib.zip"),

		DefaultAdmin: getBool("PARTYSYNC_DEFAULT_ADMIN"),

		OutBuffer:    getInt("PARTYSYNC_OUTBUF", 256),
		InBuffer:     getInt("PARTYSYNC_INBUF", 256),
		PresenceTick: 100 * time.Millisecond,
	}
}
