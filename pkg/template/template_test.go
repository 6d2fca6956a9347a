package template

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/logdrain/internal/config"
)

func TestGenerateEveryKind(t *testing.T) {
	g := NewGenerator()
	for _, k := range Kinds() {
		t.Run(string(k), func(t *testing.T) {
			c, err := g.Generate(k, "tenant.example.com")
			require.NoError(t, err)
			require.Len(t, c.Sinks, 1)
			assert.Equal(t, "tenant.example.com", c.Source.Domain)
			assert.NotEmpty(t, c.Sinks[0].DSN)
		})
	}
}

func TestGenerateKindIsCaseInsensitive(t *testing.T) {
	c, err := NewGenerator().Generate("ClickHouse", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(c.Sinks[0].DSN, "clickhouse://"))
	assert.Equal(t, "example.auth0.com", c.Source.Domain)

	c, err = NewGenerator().Generate(KindElasticsearch, "")
	require.NoError(t, err)
	assert.Equal(t, "opensearch", c.Sinks[0].Name)
}

func TestGenerateUnknownKind(t *testing.T) {
	_, err := NewGenerator().Generate("kafka", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown sink kind")
}

func TestGenerateTOMLParses(t *testing.T) {
	b, err := NewGenerator().GenerateTOML(KindPostgres, "tenant.example.com")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "# logdrain configuration (postgres sink)"))

	var back Config
	require.NoError(t, toml.Unmarshal(b, &back))
	assert.Equal(t, "postgres", back.Sinks[0].Name)
	assert.Equal(t, "20s", back.Processor.MaxRunTime)
}

func TestGeneratedConfigLoads(t *testing.T) {
	dir := t.TempDir()
	b, err := NewGenerator().GenerateTOML(KindStdout, "tenant.example.com")
	require.NoError(t, err)
	path := filepath.Join(dir, "logdrain.toml")
	require.NoError(t, os.WriteFile(path, b, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LOGDRAIN_SOURCE_CLIENT_SECRET=s3cret\n"), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tenant.example.com", cfg.Source.Domain)
	assert.Equal(t, "@every 5m", cfg.Schedule.Cron)
	require.Len(t, cfg.Sinks, 1)
	assert.Equal(t, "stdout://", cfg.Sinks[0].DSN)
	if os.Getenv("LOGDRAIN_SOURCE_CLIENT_SECRET") == "" {
		assert.Equal(t, "s3cret", cfg.Source.ClientSecret)
	}
	assert.NoError(t, cfg.ValidateSource())
}
