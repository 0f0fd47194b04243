package app_test

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediasearch/backend/features/media"
	"mediasearch/backend/internal/app"
	"mediasearch/backend/internal/syncjob"
	"mediasearch/backend/internal/testutils"
)

func migrationPath() string {
	_, b, _, _ := runtime.Caller(0)
	return fmt.Sprintf("file://%s/../../migrations", filepath.Dir(b))
}

func TestBootstrap_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	suite := testutils.NewIntegrationSuite(t)
	suite.Setup()
	defer suite.Teardown()

	cfg := suite.GetAppConfig()
	cfg.MigrationPath = migrationPath()

	deps, err := app.Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	defer deps.DB.Close()

	var exists bool
	err = deps.DB.QueryRow("SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = 'sync_jobs')").Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists, "sync_jobs table should exist")

	require.NoError(t, deps.IndexStore.EnsureSchema(context.Background()))
	require.NoError(t, deps.NSQProducer.Ping())
}

func TestBootstrap_WeaviateDown(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	suite := testutils.NewIntegrationSuite(t)
	suite.Setup()
	defer suite.Teardown()

	cfg := suite.GetAppConfig()
	cfg.MigrationPath = migrationPath()
	cfg.WeaviateHost = "localhost:54322"
	cfg.BootstrapRetryAttempts = 2

	deps, err := app.Bootstrap(context.Background(), cfg)
	assert.Error(t, err)
	assert.Nil(t, deps)
	assert.Contains(t, err.Error(), "weaviate schema error")
}

func TestApp_EndToEnd_Sync(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E integration test")
	}

	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	cfg := s.GetAppConfig()
	cfg.MigrationPath = migrationPath()
	cfg.EnableSyncWorker = true

	deps, err := app.Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	defer deps.DB.Close()

	application, err := app.New(cfg, deps.DB, deps.IndexStore, deps.NSQProducer, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = application.Run(ctx) }()

	m := &media.Media{TitleRomaji: "Sousou no Frieren", Category: "anime"}
	require.NoError(t, application.Media.CreateMedia(ctx, m))

	var uuids []string
	for pos := 1; pos <= 3; pos++ {
		seg := &media.Segment{MediaID: m.ID, Episode: 1, Position: pos, EndTimeMs: 1000, Content: fmt.Sprintf("台詞 %d", pos)}
		require.NoError(t, application.Media.InsertSegment(ctx, seg))
		uuids = append(uuids, seg.UUID)
	}

	require.Eventually(t, func() bool {
		n, err := deps.IndexStore.CountDocuments(ctx)
		return err == nil && n == 3
	}, 20*time.Second, 200*time.Millisecond)

	require.NoError(t, application.Media.DeleteSegment(ctx, uuids[0]))
	require.Eventually(t, func() bool {
		n, err := deps.IndexStore.CountDocuments(ctx)
		return err == nil && n == 2
	}, 20*time.Second, 200*time.Millisecond)

	stats, err := application.Jobs.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats[syncjob.QueueSegment].Failed)

	require.NoError(t, application.Media.DeleteMedia(ctx, m.ID))
	require.Eventually(t, func() bool {
		n, err := deps.IndexStore.CountDocuments(ctx)
		return err == nil && n == 0
	}, 20*time.Second, 200*time.Millisecond)

	run, err := application.Reindexer.Reindex(ctx, nil)
	require.NoError(t, err)
	assert.True(t, run.Success)
	assert.Equal(t, 0, run.MediaProcessed)
}
