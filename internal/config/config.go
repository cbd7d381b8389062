package config

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/DeafMist/form8k-radar/internal/edgar"
)

var itemPattern = regexp.MustCompile(`^\d{1,2}\.\d{2}$`)

// Common contains Elasticsearch parameters shared by the mirror services.
type Common struct {
	ElasticsearchAddr  string
	ElasticsearchIndex string
}

// Ledger locates the ledger document. File, when set, replaces the GitHub
// repository with a local file and is meant for testing.
type Ledger struct {
	Owner   string
	Repo    string
	Path    string
	Branch  string
	Token   string
	APIURL  string
	File    string
	Timeout time.Duration
}

// Source configures requests to the EDGAR listing.
type Source struct {
	BaseURL    string
	UserAgent  string
	PageSize   int
	MaxPages   int
	RatePerSec float64
	Timeout    time.Duration
}

// Classify configures the optional materiality classifier.
type Classify struct {
	Enabled  bool
	BaseURL  string
	Model    string
	APIKey   string
	Timeout  time.Duration
	MaxChars int
}

// Checker holds configuration for one discovery run.
type Checker struct {
	TargetItem   string
	DryRun       bool
	Ledger       Ledger
	Source       Source
	Classify     Classify
	KafkaBrokers []string
	KafkaTopic   string
}

// Worker holds configuration for the Kafka -> Elasticsearch mirror.
type Worker struct {
	Common
	KafkaBrokers   []string
	KafkaTopic     string
	KafkaConsumer  string
	DedupeCapacity int
	DedupeTTL      time.Duration
	BatchSize      int
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	BindAddr    string
	DefaultPage int
	MaxPage     int
}

// Reindex configures the job that rebuilds the mirror from the ledger.
type Reindex struct {
	Common
	Ledger Ledger
	// Interval of zero runs once and exits.
	Interval  time.Duration
	BatchSize int
}

// LoadChecker builds a Checker config from environment variables.
func LoadChecker() (*Checker, error) {
	return LoadCheckerWith(nil)
}

// LoadCheckerWith reads the environment, lets override adjust the result
// (command-line flags) and validates it.
func LoadCheckerWith(override func(*Checker)) (*Checker, error) {
	c := &Checker{
		TargetItem: getEnv("TARGET_ITEM", "1.05"),
		DryRun:     getBool("DRY_RUN", false),
		Ledger:     loadLedger(),
		Source: Source{
			BaseURL:    getEnv("SEC_BASE_URL", edgar.DefaultBaseURL),
			UserAgent:  strings.TrimSpace(os.Getenv("SEC_USER_AGENT")),
			PageSize:   getInt("SEC_PAGE_SIZE", 100),
			MaxPages:   getInt("SEC_MAX_PAGES", 20),
			RatePerSec: getFloat("SEC_RATE_PER_SEC", 5),
			Timeout:    getDuration("SOURCE_TIMEOUT", "10s"),
		},
		Classify: Classify{
			Enabled:  getBool("CLASSIFY_ENABLED", false),
			BaseURL:  getEnv("LLM_BASE_URL", "https://api.openai.com/v1/chat/completions"),
			Model:    os.Getenv("LLM_MODEL"),
			APIKey:   os.Getenv("LLM_API_KEY"),
			Timeout:  getDuration("CLASSIFY_TIMEOUT", "30s"),
			MaxChars: getInt("CLASSIFY_MAX_CHARS", 12000),
		},
		KafkaBrokers: splitAndTrim(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "filings_discovered"),
	}
	if override != nil {
		override(c)
	}

	if !IsItemCode(c.TargetItem) {
		return nil, fmt.Errorf("TARGET_ITEM %q is not an item code like 1.05", c.TargetItem)
	}
	if err := c.Ledger.validate(); err != nil {
		return nil, err
	}

	if c.Source.UserAgent == "" {
		return nil, fmt.Errorf("SEC_USER_AGENT must name the operator and a contact address")
	}
	if !slices.Contains(edgar.ValidPageSizes, c.Source.PageSize) {
		return nil, fmt.Errorf("SEC_PAGE_SIZE must be one of %v", edgar.ValidPageSizes)
	}
	if c.Source.MaxPages <= 0 {
		return nil, fmt.Errorf("SEC_MAX_PAGES must be positive")
	}
	if c.Source.RatePerSec <= 0 || c.Source.RatePerSec > 10 {
		return nil, fmt.Errorf("SEC_RATE_PER_SEC must be in (0, 10]")
	}
	if c.Source.Timeout <= 0 {
		return nil, fmt.Errorf("SOURCE_TIMEOUT must be positive")
	}

	if c.Classify.Enabled {
		if c.Classify.Model == "" {
			return nil, fmt.Errorf("LLM_MODEL is required when CLASSIFY_ENABLED is set")
		}
		if c.Classify.APIKey == "" {
			return nil, fmt.Errorf("LLM_API_KEY is required when CLASSIFY_ENABLED is set")
		}
		if c.Classify.Timeout <= 0 {
			return nil, fmt.Errorf("CLASSIFY_TIMEOUT must be positive")
		}
		if c.Classify.MaxChars <= 0 {
			return nil, fmt.Errorf("CLASSIFY_MAX_CHARS must be positive")
		}
	}

	return c, nil
}

// LoadWorker builds a Worker config from environment variables.
func LoadWorker() (*Worker, error) {
	c := &Worker{
		Common:         loadCommon(),
		KafkaBrokers:   splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092")),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "filings_discovered"),
		KafkaConsumer:  getEnv("KAFKA_CONSUMER_GROUP", "filings-mirror"),
		DedupeCapacity: getInt("WORKER_DEDUPE_CAPACITY", 20000),
		DedupeTTL:      getDuration("WORKER_DEDUPE_TTL", "96h"),
		BatchSize:      getInt("WORKER_BATCH_SIZE", 10),
	}

	if len(c.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}

	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("WORKER_BATCH_SIZE must be positive")
	}
	if c.DedupeCapacity <= 0 {
		return nil, fmt.Errorf("WORKER_DEDUPE_CAPACITY must be positive")
	}

	return c, nil
}

// LoadAPI builds an API config from environment variables.
func LoadAPI() (*API, error) {
	c := &API{
		Common:      loadCommon(),
		BindAddr:    getEnv("API_BIND_ADDR", "0.0.0.0:8080"),
		DefaultPage: getInt("API_PAGE_SIZE", 20),
		MaxPage:     getInt("API_MAX_PAGE_SIZE", 100),
	}

	if c.DefaultPage <= 0 {
		return nil, fmt.Errorf("API_PAGE_SIZE must be positive")
	}
	if c.MaxPage <= 0 {
		return nil, fmt.Errorf("API_MAX_PAGE_SIZE must be positive")
	}
	if c.DefaultPage > c.MaxPage {
		return nil, fmt.Errorf("API_PAGE_SIZE cannot exceed API_MAX_PAGE_SIZE")
	}

	return c, nil
}

// LoadReindex builds a Reindex config from environment variables.
func LoadReindex() (*Reindex, error) {
	c := &Reindex{
		Common:    loadCommon(),
		Ledger:    loadLedger(),
		Interval:  getDuration("REINDEX_INTERVAL", "0s"),
		BatchSize: getInt("REINDEX_BATCH_SIZE", 500),
	}

	if err := c.Ledger.validate(); err != nil {
		return nil, err
	}
	if c.Interval < 0 {
		return nil, fmt.Errorf("REINDEX_INTERVAL cannot be negative")
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("REINDEX_BATCH_SIZE must be positive")
	}

	return c, nil
}

// IsItemCode reports whether s looks like a Form 8-K item code such as "1.05".
func IsItemCode(s string) bool {
	return itemPattern.MatchString(s)
}

func loadCommon() Common {
	return Common{
		ElasticsearchAddr:  getEnv("ELASTICSEARCH_ADDR", "http://elasticsearch:9200"),
		ElasticsearchIndex: getEnv("ELASTICSEARCH_INDEX", "filings"),
	}
}

func loadLedger() Ledger {
	return Ledger{
		Owner:   os.Getenv("LEDGER_OWNER"),
		Repo:    getEnv("LEDGER_REPO", "8-Ks"),
		Path:    getEnv("LEDGER_PATH", "8-Ks.md"),
		Branch:  os.Getenv("LEDGER_BRANCH"),
		Token:   os.Getenv("GITHUB_TOKEN"),
		APIURL:  os.Getenv("GITHUB_API_URL"),
		File:    os.Getenv("LEDGER_FILE"),
		Timeout: getDuration("LEDGER_TIMEOUT", "10s"),
	}
}

func (l Ledger) validate() error {
	if l.Timeout <= 0 {
		return fmt.Errorf("LEDGER_TIMEOUT must be positive")
	}
	if l.File != "" {
		return nil
	}
	if l.Owner == "" {
		return fmt.Errorf("LEDGER_OWNER is required unless LEDGER_FILE is set")
	}
	if l.Token == "" {
		return fmt.Errorf("GITHUB_TOKEN is required unless LEDGER_FILE is set")
	}
	return nil
}

// String describes the ledger location without the token.
func (l Ledger) String() string {
	if l.File != "" {
		return "file:" + l.File
	}
	return fmt.Sprintf("github:%s/%s/%s", l.Owner, l.Repo, l.Path)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	raw := getEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
