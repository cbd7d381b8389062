package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/form8k-radar/internal/config"
)

// clearChecker blanks every variable LoadChecker reads.
func clearChecker(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TARGET_ITEM", "DRY_RUN",
		"LEDGER_OWNER", "LEDGER_REPO", "LEDGER_PATH", "LEDGER_BRANCH", "LEDGER_FILE", "LEDGER_TIMEOUT",
		"GITHUB_TOKEN", "GITHUB_API_URL",
		"SEC_BASE_URL", "SEC_USER_AGENT", "SEC_PAGE_SIZE", "SEC_MAX_PAGES", "SEC_RATE_PER_SEC", "SOURCE_TIMEOUT",
		"CLASSIFY_ENABLED", "LLM_BASE_URL", "LLM_MODEL", "LLM_API_KEY", "CLASSIFY_TIMEOUT", "CLASSIFY_MAX_CHARS",
		"KAFKA_BROKERS", "KAFKA_TOPIC",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadCheckerDefaults(t *testing.T) {
	clearChecker(t)
	t.Setenv("LEDGER_OWNER", "octo")
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("SEC_USER_AGENT", "form8k-radar ops@example.com")

	cfg, err := config.LoadChecker()
	require.NoError(t, err)

	require.Equal(t, "1.05", cfg.TargetItem)
	require.False(t, cfg.DryRun)
	require.Equal(t, "8-Ks", cfg.Ledger.Repo)
	require.Equal(t, "8-Ks.md", cfg.Ledger.Path)
	require.Equal(t, 10*time.Second, cfg.Ledger.Timeout)
	require.Equal(t, "https://www.sec.gov", cfg.Source.BaseURL)
	require.Equal(t, 100, cfg.Source.PageSize)
	require.Equal(t, 20, cfg.Source.MaxPages)
	require.Equal(t, 5.0, cfg.Source.RatePerSec)
	require.Equal(t, 10*time.Second, cfg.Source.Timeout)
	require.False(t, cfg.Classify.Enabled)
	require.Equal(t, 30*time.Second, cfg.Classify.Timeout)
	require.Empty(t, cfg.KafkaBrokers)
	require.Equal(t, "filings_discovered", cfg.KafkaTopic)
	require.Equal(t, "github:octo/8-Ks/8-Ks.md", cfg.Ledger.String())
	require.NotContains(t, cfg.Ledger.String(), "ghp_test")
}

func TestLoadCheckerOverrides(t *testing.T) {
	clearChecker(t)
	t.Setenv("TARGET_ITEM", "2.01")
	t.Setenv("DRY_RUN", "true")
	t.Setenv("LEDGER_FILE", "/tmp/8-Ks.md")
	t.Setenv("SEC_USER_AGENT", "form8k-radar ops@example.com")
	t.Setenv("SEC_PAGE_SIZE", "40")
	t.Setenv("SEC_MAX_PAGES", "3")
	t.Setenv("SEC_RATE_PER_SEC", "2.5")
	t.Setenv("CLASSIFY_ENABLED", "1")
	t.Setenv("LLM_MODEL", "gpt-test")
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("CLASSIFY_MAX_CHARS", "500")
	t.Setenv("KAFKA_BROKERS", "broker-a:29092, broker-b:29093")

	cfg, err := config.LoadChecker()
	require.NoError(t, err)

	require.Equal(t, "2.01", cfg.TargetItem)
	require.True(t, cfg.DryRun)
	require.Equal(t, "file:/tmp/8-Ks.md", cfg.Ledger.String())
	require.Equal(t, 40, cfg.Source.PageSize)
	require.Equal(t, 3, cfg.Source.MaxPages)
	require.Equal(t, 2.5, cfg.Source.RatePerSec)
	require.True(t, cfg.Classify.Enabled)
	require.Equal(t, 500, cfg.Classify.MaxChars)
	require.Equal(t, []string{"broker-a:29092", "broker-b:29093"}, cfg.KafkaBrokers)
}

func TestLoadCheckerValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing token", env: map[string]string{"GITHUB_TOKEN": ""}},
		{name: "missing owner", env: map[string]string{"LEDGER_OWNER": ""}},
		{name: "missing user agent", env: map[string]string{"SEC_USER_AGENT": ""}},
		{name: "bad item", env: map[string]string{"TARGET_ITEM": "1.5"}},
		{name: "bad page size", env: map[string]string{"SEC_PAGE_SIZE": "50"}},
		{name: "zero pages", env: map[string]string{"SEC_MAX_PAGES": "0"}},
		{name: "rate above fair access", env: map[string]string{"SEC_RATE_PER_SEC": "11"}},
		{name: "classify without model", env: map[string]string{"CLASSIFY_ENABLED": "true", "LLM_API_KEY": "sk-test"}},
		{name: "classify without api key", env: map[string]string{"CLASSIFY_ENABLED": "true", "LLM_MODEL": "gpt-test"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearChecker(t)
			t.Setenv("LEDGER_OWNER", "octo")
			t.Setenv("GITHUB_TOKEN", "ghp_test")
			t.Setenv("SEC_USER_AGENT", "form8k-radar ops@example.com")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := config.LoadChecker()
			require.Error(t, err)
		})
	}
}

func TestLoadWorkerDefaults(t *testing.T) {
	t.Setenv("ELASTICSEARCH_ADDR", "")
	t.Setenv("ELASTICSEARCH_INDEX", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("KAFKA_TOPIC", "")
	t.Setenv("KAFKA_CONSUMER_GROUP", "")

	cfg, err := config.LoadWorker()
	require.NoError(t, err)

	require.Equal(t, "http://elasticsearch:9200", cfg.ElasticsearchAddr)
	require.Equal(t, "filings", cfg.ElasticsearchIndex)
	require.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	require.Equal(t, "filings_discovered", cfg.KafkaTopic)
	require.Equal(t, "filings-mirror", cfg.KafkaConsumer)
}

func TestLoadWorkerOverrides(t *testing.T) {
	t.Setenv("ELASTICSEARCH_ADDR", "http://localhost:9999")
	t.Setenv("ELASTICSEARCH_INDEX", "custom")
	t.Setenv("KAFKA_BROKERS", "broker-a:29092,broker-b:29093")
	t.Setenv("KAFKA_TOPIC", "custom_topic")
	t.Setenv("KAFKA_CONSUMER_GROUP", "custom-group")
	t.Setenv("WORKER_DEDUPE_CAPACITY", "5")
	t.Setenv("WORKER_DEDUPE_TTL", "48h")
	t.Setenv("WORKER_BATCH_SIZE", "3")

	cfg, err := config.LoadWorker()
	require.NoError(t, err)

	require.Equal(t, "http://localhost:9999", cfg.ElasticsearchAddr)
	require.Equal(t, "custom", cfg.ElasticsearchIndex)
	require.Len(t, cfg.KafkaBrokers, 2)
	require.Equal(t, "custom_topic", cfg.KafkaTopic)
	require.Equal(t, "custom-group", cfg.KafkaConsumer)
	require.Equal(t, 5, cfg.DedupeCapacity)
	require.Equal(t, 48*time.Hour, cfg.DedupeTTL)
	require.Equal(t, 3, cfg.BatchSize)
}

func TestLoadAPI(t *testing.T) {
	t.Setenv("API_BIND_ADDR", ":9090")
	t.Setenv("API_PAGE_SIZE", "15")
	t.Setenv("API_MAX_PAGE_SIZE", "200")
	t.Setenv("ELASTICSEARCH_ADDR", "http://api-es:9200")
	t.Setenv("ELASTICSEARCH_INDEX", "api-index")

	cfg, err := config.LoadAPI()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.BindAddr)
	require.Equal(t, 15, cfg.DefaultPage)
	require.Equal(t, 200, cfg.MaxPage)
	require.Equal(t, "http://api-es:9200", cfg.ElasticsearchAddr)
	require.Equal(t, "api-index", cfg.ElasticsearchIndex)

	t.Setenv("API_PAGE_SIZE", "300")
	_, err = config.LoadAPI()
	require.Error(t, err)
}

func TestLoadReindex(t *testing.T) {
	t.Setenv("ELASTICSEARCH_ADDR", "http://re-es:9200")
	t.Setenv("ELASTICSEARCH_INDEX", "re-index")
	t.Setenv("LEDGER_FILE", "/var/lib/8-Ks.md")
	t.Setenv("REINDEX_INTERVAL", "12h")
	t.Setenv("REINDEX_BATCH_SIZE", "123")

	cfg, err := config.LoadReindex()
	require.NoError(t, err)

	require.Equal(t, 12*time.Hour, cfg.Interval)
	require.Equal(t, 123, cfg.BatchSize)
	require.Equal(t, "http://re-es:9200", cfg.ElasticsearchAddr)
	require.Equal(t, "re-index", cfg.ElasticsearchIndex)
	require.Equal(t, "/var/lib/8-Ks.md", cfg.Ledger.File)

	t.Setenv("REINDEX_INTERVAL", "")
	cfg, err = config.LoadReindex()
	require.NoError(t, err)
	require.Zero(t, cfg.Interval)
}
