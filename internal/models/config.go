package models

// Config represents the service configuration
type Config struct {
	// Server config
	Port int    `yaml:"port"`
	Host string `yaml:"host"`

	// OCR acquisition config
	OCR OCRConfig `yaml:"ocr"`

	// Confidence blend weights
	Confidence ConfidenceConfig `yaml:"confidence"`

	// Routing thresholds and priorities
	Routing RoutingConfig `yaml:"routing"`

	// Review queue config
	Queue QueueConfig `yaml:"queue"`

	// Forwarder identification thresholds
	Identify IdentifyConfig `yaml:"identify"`

	// Object storage for the document archive
	Storage StorageConfig `yaml:"storage"`
}

// OCRConfig represents OCR provider configuration
type OCRConfig struct {
	// Default provider: "docintel", "gemini", "openai"
	Provider string `yaml:"provider"`

	// Retry and input limits
	MaxRetries     int `yaml:"max_retries"`      // Default: 3
	TimeoutSeconds int `yaml:"timeout_seconds"`  // Per attempt, default: 60
	MaxFileSizeMB  int `yaml:"max_file_size_mb"` // Default: 10

	// Preprocess images with ImageMagick before sending to a provider
	Preprocess bool `yaml:"preprocess"`

	DocIntel DocIntelConfig `yaml:"docintel"`
	Gemini   GeminiConfig   `yaml:"gemini"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
}

// DocIntelConfig for the document intelligence REST endpoint
type DocIntelConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"` // Default: "prebuilt-invoice"
}

// GeminiConfig for Google Gemini
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"` // Default: "gemini-1.5-flash"
}

// OpenAIConfig for OpenAI-compatible endpoints
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"` // For custom endpoints
	Model   string `yaml:"model"`              // Default: "gpt-4o-mini"
}

// ConfidenceConfig holds the four blend weights. They must sum to 1.0.
type ConfidenceConfig struct {
	OCRWeight        float64 `yaml:"ocr_weight"`        // Default: 0.30
	RuleWeight       float64 `yaml:"rule_weight"`       // Default: 0.30
	ValidationWeight float64 `yaml:"validation_weight"` // Default: 0.25
	HistoryWeight    float64 `yaml:"history_weight"`    // Default: 0.15
}

// RoutingConfig holds routing thresholds and priority parameters
type RoutingConfig struct {
	AutoApproveThreshold float64 `yaml:"auto_approve_threshold"` // Default: 95
	QuickReviewThreshold float64 `yaml:"quick_review_threshold"` // Default: 80
	CriticalFieldLimit   int     `yaml:"critical_field_limit"`   // Default: 3

	// Base priorities per path
	ManualPriority int `yaml:"manual_priority"` // Default: 70
	FullPriority   int `yaml:"full_priority"`   // Default: 60
	QuickPriority  int `yaml:"quick_priority"`  // Default: 30

	// Priority bonuses
	AgeBonusPerDay int `yaml:"age_bonus_per_day"` // Default: 2
	AgeBonusCap    int `yaml:"age_bonus_cap"`     // Default: 20
	CriticalBonus  int `yaml:"critical_bonus"`    // Default: 5
}

// QueueConfig for the review queue
type QueueConfig struct {
	// Cron spec for the priority sweep (5-field). Empty disables it.
	SweepSchedule string `yaml:"sweep_schedule"` // Default: "*/30 * * * *"
}

// IdentifyConfig holds forwarder identification thresholds
type IdentifyConfig struct {
	AutoThreshold   float64 `yaml:"auto_threshold"`   // Default: 80
	ReviewThreshold float64 `yaml:"review_threshold"` // Default: 50
}

// StorageConfig for the MinIO document archive. An empty endpoint
// disables archiving; processing then runs on in-request bytes only.
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"` // Default: "invoices"
	UseSSL    bool   `yaml:"use_ssl"`
}

// DefaultConfig returns the built-in defaults used when config.yaml is absent
func DefaultConfig() *Config {
	return &Config{
		Port: 8080,
		Host: "0.0.0.0",
		OCR: OCRConfig{
			Provider:       "docintel",
			MaxRetries:     3,
			TimeoutSeconds: 60,
			MaxFileSizeMB:  10,
			DocIntel:       DocIntelConfig{Model: "prebuilt-invoice"},
			Gemini:         GeminiConfig{Model: "gemini-1.5-flash"},
			OpenAI:         OpenAIConfig{Model: "gpt-4o-mini"},
		},
		Confidence: ConfidenceConfig{
			OCRWeight:        0.30,
			RuleWeight:       0.30,
			ValidationWeight: 0.25,
			HistoryWeight:    0.15,
		},
		Routing: RoutingConfig{
			AutoApproveThreshold: 95,
			QuickReviewThreshold: 80,
			CriticalFieldLimit:   3,
			ManualPriority:       70,
			FullPriority:         60,
			QuickPriority:        30,
			AgeBonusPerDay:       2,
			AgeBonusCap:          20,
			CriticalBonus:        5,
		},
		Queue: QueueConfig{
			SweepSchedule: "*/30 * * * *",
		},
		Identify: IdentifyConfig{
			AutoThreshold:   80,
			ReviewThreshold: 50,
		},
		Storage: StorageConfig{
			Bucket: "invoices",
		},
	}
}
