package app

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regchat/internal/config"
	"regchat/internal/testutils"
)

func TestBootstrap_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	suite := testutils.NewIntegrationSuite(t)
	suite.Setup()
	defer suite.Teardown()

	for _, backend := range []string{config.BackendWeaviate, config.BackendPGVector} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			cfg := suite.GetAppConfig()
			cfg.VectorBackend = backend

			deps, err := Bootstrap(ctx, cfg)
			require.NoError(t, err)
			defer deps.Close()

			a, err := New(cfg, deps, &Oracles{Embedder: hashEmbedder{}, Generator: &recordingGenerator{}}, slog.Default())
			require.NoError(t, err)

			n, err := a.Ingest.IngestText(ctx, "quy_che", "Điều 1. Sinh viên đăng ký tối thiểu 14 tín chỉ mỗi học kỳ.", map[string]any{"filename": "quy_che.pdf"})
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			res, err := a.Pipeline.Answer(ctx, "Số tín chỉ tối thiểu?", 0, "quy_che")
			require.NoError(t, err)
			require.Len(t, res.Sources, 1)
			assert.Contains(t, res.Sources[0].Text, "14 tín chỉ")

			docs, err := a.Documents.List(ctx)
			require.NoError(t, err)
			require.Len(t, docs, 1)
			assert.True(t, docs[0].Indexed)

			require.NoError(t, a.Documents.Delete(ctx, "quy_che"))
			count, err := a.Index.Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	}
}
