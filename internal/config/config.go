package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const defaultBusinessOffsetMinutes = -180

type Config struct {
	Port                     string
	AllowedOrigin            string
	DatabaseURL              string
	DBAutoMigrate            bool
	RedisAddr                string
	RedisPassword            string
	RedisDB                  int
	RegisterCacheTTLSeconds  int
	AuthSecret               string
	AccessTokenTTLMinutes    int
	BusinessUTCOffsetMinutes int
	LogLevel                 string
	SeedOwnerUsername        string
	SeedOwnerPassword        string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	cacheTTL := getPositiveInt("REGISTER_CACHE_TTL_SECONDS", 30)
	tokenTTL := getPositiveInt("ACCESS_TOKEN_TTL_MINUTES", 480)

	offset, err := strconv.Atoi(getEnv("BUSINESS_UTC_OFFSET_MINUTES", strconv.Itoa(defaultBusinessOffsetMinutes)))
	if err != nil {
		offset = defaultBusinessOffsetMinutes
	}

	cfg := Config{
		Port:                     getEnv("PORT", "8080"),
		AllowedOrigin:            getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		DBAutoMigrate:            getBool("DB_AUTO_MIGRATE", false),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  redisDB,
		RegisterCacheTTLSeconds:  cacheTTL,
		AuthSecret:               strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:    tokenTTL,
		BusinessUTCOffsetMinutes: offset,
		LogLevel:                 strings.ToLower(getEnv("LOG_LEVEL", "info")),
		SeedOwnerUsername:        getEnv("SEED_OWNER_USERNAME", "owner"),
		SeedOwnerPassword:        os.Getenv("SEED_OWNER_PASSWORD"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getPositiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(fallback)))
	if err != nil {
		return fallback
	}
	return b
}
