package model

import "time"

// ================ Config ================

// ModelConfig holds process-wide model settings. When ShowModelSelector is
// false these values are the only source for provider/model resolution.
type ModelConfig struct {
	Provider          string  `envconfig:"MODEL_PROVIDER" default:"ibm"`
	ShowModelSelector bool    `envconfig:"SHOW_MODEL_SELECTOR" default:"false"`
	Temperature       float32 `envconfig:"MODEL_TEMPERATURE" default:"0.7"`
	MaxTokens         int     `envconfig:"MODEL_MAX_TOKENS" default:"1000"`
	TopP              float32 `envconfig:"MODEL_TOP_P" default:"0.9"`
}

type OpenAIConfig struct {
	APIKey  string `envconfig:"OPENAI_API_KEY"`
	Model   string `envconfig:"OPENAI_MODEL" default:"gpt-3.5-turbo"`
	BaseURL string `envconfig:"OPENAI_BASE_URL"`
}

type IBMConfig struct {
	APIKey    string `envconfig:"IBM_CLOUD_API_KEY"`
	Endpoint  string `envconfig:"IBM_CLOUD_ENDPOINT"`
	ProjectID string `envconfig:"IBM_CLOUD_PROJECT_ID"`
	Model     string `envconfig:"IBM_MODEL" default:"ibm/granite-13b-chat-v2"`
	IAMURL    string `envconfig:"IBM_IAM_URL" default:"https://iam.cloud.ibm.com/identity/token"`
}

type GeminiConfig struct {
	APIKey  string `envconfig:"GEMINI_API_KEY"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`
	Model   string `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash"`
}

type WeatherConfig struct {
	GeocodingURL  string        `envconfig:"WEATHER_GEOCODING_URL" default:"https://geocoding-api.open-meteo.com/v1/search"`
	ForecastURL   string        `envconfig:"WEATHER_FORECAST_URL" default:"https://api.open-meteo.com/v1/forecast"`
	AirQualityURL string        `envconfig:"WEATHER_AIR_QUALITY_URL" default:"https://air-quality-api.open-meteo.com/v1/air-quality"`
	ForecastDays  int           `envconfig:"WEATHER_FORECAST_DAYS" default:"16"`
	Timeout       time.Duration `envconfig:"WEATHER_TIMEOUT" default:"15s"`
	CacheTTL      time.Duration `envconfig:"WEATHER_CACHE_TTL" default:"30m"`
}

type MedicalConfig struct {
	URL             string `envconfig:"ES_URL"`
	User            string `envconfig:"ES_USER"`
	Password        string `envconfig:"ES_PASSWORD"`
	CertFingerprint string `envconfig:"ES_CERT_FINGERPRINT"`
	Index           string `envconfig:"MEDICAL_JOURNAL_INDEX_NAME" default:"medical_journal"`
	TopK            int    `envconfig:"MEDICAL_TOP_K" default:"5"`
}

type SessionConfig struct {
	Store string        `envconfig:"SESSION_STORE" default:"memory"`
	TTL   time.Duration `envconfig:"SESSION_TTL" default:"24h"`
}
