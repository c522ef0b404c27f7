package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 120*time.Second, cfg.JobTimeout)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 60, cfg.MaxFrames)
	assert.InDelta(t, 0.4, cfg.MinConfidence, 1e-9)
	assert.InDelta(t, 0.5, cfg.IoUThreshold, 1e-9)
	assert.InDelta(t, 5, cfg.DedupWindowSeconds, 1e-9)
	assert.Equal(t, DetectorRemote, cfg.DetectorBackend)
	assert.Equal(t, DataSourceLive, cfg.DataSource)
	assert.Equal(t, 150*time.Second, cfg.PollMaxWait())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("JOB_TIMEOUT", "45s")
	t.Setenv("DETECTOR_BACKEND", "local")
	t.Setenv("DATA_SOURCE", "fixture")
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.WorkerCount)
	assert.Equal(t, 45*time.Second, cfg.JobTimeout)
	assert.Equal(t, DetectorLocal, cfg.DetectorBackend)
	assert.Equal(t, DataSourceFixture, cfg.DataSource)
	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"zero workers":      {"WORKER_COUNT", "0"},
		"unknown backend":   {"DETECTOR_BACKEND", "browser"},
		"iou out of range":  {"IOU_THRESHOLD", "1.5"},
		"bad data source":   {"DATA_SOURCE", "pitch"},
		"bad log level":     {"LOG_LEVEL", "verbose"},
		"negative retries":  {"MAX_RETRIES", "-1"},
		"non-positive rate": {"SAMPLE_RATE_SECONDS", "0"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
