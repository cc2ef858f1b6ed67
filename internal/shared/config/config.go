package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port            string
	CORSAllowOrigin []string
	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string
	DatabaseURL     string
	Env             string

	SQSQueueURL string

	OpenAIAPIKey    string
	OpenAIModel     string
	AnthropicAPIKey string
	AnthropicModel  string
	GrokAPIKey      string
	GrokModel       string
	TextractEnabled bool

	ProviderBreakers map[string]BreakerSettings

	RetryMaxRetries int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration

	PayloadTargetMB    int
	PayloadWarningMB   int
	PayloadHardLimitMB int
	PayloadMaxPages    int
}

// BreakerSettings configures one provider's circuit breaker.
type BreakerSettings struct {
	FailureThreshold int
	Timeout          time.Duration
	RetryTimeout     time.Duration
}

// Per-provider breaker profiles. Vision calls carry multi-megabyte payloads
// and run long, so openai gets a longer open window; Textract is fast and
// cheap to re-probe, so it trips earlier and recovers sooner.
var breakerDefaults = map[string]BreakerSettings{
	"openai":    {FailureThreshold: 5, Timeout: 90 * time.Second, RetryTimeout: 30 * time.Second},
	"anthropic": {FailureThreshold: 5, Timeout: 60 * time.Second, RetryTimeout: 30 * time.Second},
	"grok":      {FailureThreshold: 5, Timeout: 60 * time.Second, RetryTimeout: 30 * time.Second},
	"textract":  {FailureThreshold: 3, Timeout: 30 * time.Second, RetryTimeout: 15 * time.Second},
}

// loadProviderBreakers resolves each provider's breaker settings. Per-provider
// env knobs (BREAKER_OPENAI_TIMEOUT_SECONDS, ...) win over the global
// BREAKER_* knobs, which win over the per-provider defaults.
func loadProviderBreakers() map[string]BreakerSettings {
	out := make(map[string]BreakerSettings, len(breakerDefaults))
	for name, def := range breakerDefaults {
		prefix := "BREAKER_" + strings.ToUpper(name) + "_"
		out[name] = BreakerSettings{
			FailureThreshold: getEnvInt(prefix+"FAILURE_THRESHOLD", getEnvInt("BREAKER_FAILURE_THRESHOLD", def.FailureThreshold)),
			Timeout:          time.Duration(getEnvInt(prefix+"TIMEOUT_SECONDS", getEnvInt("BREAKER_TIMEOUT_SECONDS", int(def.Timeout/time.Second)))) * time.Second,
			RetryTimeout:     time.Duration(getEnvInt(prefix+"RETRY_TIMEOUT_SECONDS", getEnvInt("BREAKER_RETRY_TIMEOUT_SECONDS", int(def.RetryTimeout/time.Second)))) * time.Second,
		}
	}
	return out
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),
		DatabaseURL:     dbURL,
		Env:             env,

		SQSQueueURL: getEnv("CIM_SQS_QUEUE_URL", ""),

		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4o"),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),
		GrokAPIKey:      getEnv("GROK_API_KEY", ""),
		GrokModel:       getEnv("GROK_MODEL", "grok-2-latest"),
		TextractEnabled: getEnvBool("TEXTRACT_ENABLED", false),

		ProviderBreakers: loadProviderBreakers(),

		RetryMaxRetries: getEnvInt("RETRY_MAX_RETRIES", 2),
		RetryBaseDelay:  time.Duration(getEnvInt("RETRY_BASE_DELAY_MS", 1000)) * time.Millisecond,
		RetryMaxDelay:   time.Duration(getEnvInt("RETRY_MAX_DELAY_MS", 10000)) * time.Millisecond,

		PayloadTargetMB:    getEnvInt("PAYLOAD_TARGET_MB", 8),
		PayloadWarningMB:   getEnvInt("PAYLOAD_WARNING_MB", 6),
		PayloadHardLimitMB: getEnvInt("PAYLOAD_HARD_LIMIT_MB", 20),
		PayloadMaxPages:    getEnvInt("PAYLOAD_MAX_PAGES", 10),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		log.Printf("invalid %s=%q, using %d", key, val, def)
		return def
	}
	return parsed
}

func getEnvBool(key string, def bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(val))
	if err != nil {
		log.Printf("invalid %s=%q, using %t", key, val, def)
		return def
	}
	return parsed
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}
