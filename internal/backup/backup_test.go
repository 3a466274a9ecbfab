package backup

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/vienna-weather-pipeline/internal/models"
)

func entry(n int) models.BackupEntry {
	return models.BackupEntry{
		CheckNumber: n,
		Timestamp:   "2024-01-01 12:00:00.000",
		TimestampMs: 1704110400000 + int64(n),
		Temperature: float64(n) + 0.5,
		FeelsLike:   float64(n),
		Humidity:    70,
		Pressure:    1015,
		Description: "clear sky",
		WindSpeed:   3.1,
		Cloudiness:  0,
		APICallTime: "2024-01-01T12:00:00.000",
	}
}

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	jsonl, err := Open("jsonl", filepath.Join(dir, "vienna_weather_log.json"))
	require.NoError(t, err)
	sqlite, err := Open("sqlite", filepath.Join(dir, "vienna_weather_log.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = jsonl.Close()
		_ = sqlite.Close()
	})
	return map[string]Store{"jsonl": jsonl, "sqlite": sqlite}
}

func TestStore_AppendRecent(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			got, err := store.Recent(ctx, 5)
			require.NoError(t, err)
			assert.Empty(t, got)

			for i := 1; i <= 4; i++ {
				require.NoError(t, store.Append(ctx, entry(i)))
			}

			got, err = store.Recent(ctx, 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, entry(4), got[0])
			assert.Equal(t, entry(3), got[1])

			got, err = store.Recent(ctx, 10)
			require.NoError(t, err)
			assert.Len(t, got, 4)

			got, err = store.Recent(ctx, 0)
			require.NoError(t, err)
			assert.Empty(t, got)
			assert.Equal(t, name, store.Backend())
		})
	}
}

func TestJSONL_OneObjectPerLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	store := NewJSONL(path)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, entry(1)))
	require.NoError(t, store.Append(ctx, entry(2)))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	for _, key := range []string{"check_number", "timestamp", "timestamp_ms", "temperature", "feels_like",
		"humidity", "pressure", "description", "wind_speed", "cloudiness", "api_call_time"} {
		assert.Contains(t, lines[0], key)
	}
	assert.EqualValues(t, 2, lines[1]["check_number"])
}

func TestJSONL_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	require.NoError(t, os.WriteFile(path, []byte("not json\n"), 0o644))
	store := NewJSONL(path)
	require.NoError(t, store.Append(context.Background(), entry(7)))

	got, err := store.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 7, got[0].CheckNumber)
}

func TestJSONL_AppendErrorOnMissingDir(t *testing.T) {
	store := NewJSONL(filepath.Join(t.TempDir(), "missing", "log.json"))
	assert.Error(t, store.Append(context.Background(), entry(1)))
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open("csv", "x")
	assert.Error(t, err)
}
