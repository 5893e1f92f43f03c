package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutConfigFile(t *testing.T) {
	// 切到空目录,确保找不到任何配置文件
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	cfg, err := Load("nonexistent", "")
	require.NoError(t, err)

	require.Equal(t, 5000, cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Index.Backend)
	require.Equal(t, 350, cfg.Ingest.Chunk.TargetTokens)
	require.InDelta(t, 0.15, cfg.Ingest.Chunk.OverlapFraction, 1e-9)
	require.True(t, cfg.Ingest.Dedup.Enabled)
	require.Equal(t, []string{"pdf-native", "web", "pdf-scanned"}, cfg.Ingest.Dedup.Rank)
	require.Equal(t, 5, cfg.RAG.TopK)
	require.Empty(t, cfg.RAG.MaxAge)
	require.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	require.False(t, cfg.Redis.Enabled)
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8080
index:
  backend: memory
ingest:
  chunk:
    target_tokens: 500
`), 0o644))

	cfg, err := Load("test", path)
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "memory", cfg.Index.Backend)
	require.Equal(t, 500, cfg.Ingest.Chunk.TargetTokens)
	// 未覆盖项仍是默认值
	require.Equal(t, 64, cfg.Embedding.MaxBatchSize)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("index:\n  backend: oracle\n"), 0o644))

	_, err := Load("bad", path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "索引后端")
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func(t *testing.T) *Config {
		cwd, err := os.Getwd()
		require.NoError(t, err)
		require.NoError(t, os.Chdir(t.TempDir()))
		t.Cleanup(func() { _ = os.Chdir(cwd) })
		cfg, err := Load("nonexistent", "")
		require.NoError(t, err)
		return cfg
	}

	t.Run("重叠比例超出上限", func(t *testing.T) {
		cfg := base(t)
		cfg.Ingest.Chunk.OverlapFraction = 0.5
		cfg.Ingest.Chunk.MaxOverlap = 0.3
		require.Error(t, cfg.Validate())
	})

	t.Run("去重阈值越界", func(t *testing.T) {
		cfg := base(t)
		cfg.Ingest.Dedup.Threshold = 1.5
		require.Error(t, cfg.Validate())
	})

	t.Run("top_k 超过上限", func(t *testing.T) {
		cfg := base(t)
		cfg.RAG.TopK = 100
		cfg.RAG.MaxTopK = 50
		require.Error(t, cfg.Validate())
	})

	t.Run("max_age 非法时长", func(t *testing.T) {
		cfg := base(t)
		cfg.RAG.MaxAge = "三十天"
		require.Error(t, cfg.Validate())
	})

	t.Run("并发度非正", func(t *testing.T) {
		cfg := base(t)
		cfg.Ingest.Workers = 0
		require.Error(t, cfg.Validate())
	})
}

func TestPostgresDSN(t *testing.T) {
	pg := PostgresConfig{
		Host: "db.local", Port: 5432, User: "rag", Password: "secret",
		DBName: "knowledge", SSLMode: "disable",
	}
	require.Equal(t,
		"host=db.local port=5432 user=rag password=secret dbname=knowledge sslmode=disable",
		pg.GetDSN())
}
