package elastic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/vienna-weather-pipeline/internal/models"
)

func TestClient_IndexDocument(t *testing.T) {
	var gotPath, gotMethod string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"_id":"abc","result":"created"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", time.Second)
	id, err := c.IndexDocument(context.Background(), "vienna-weather", map[string]any{"temperature": 12.5})
	require.NoError(t, err)
	assert.Equal(t, "abc", id)
	assert.Equal(t, "/vienna-weather/_doc", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, 12.5, gotBody["temperature"])
}

func TestClient_IndexDocument_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()
	c := NewClient(srv.URL, time.Second)

	_, err := c.IndexDocument(context.Background(), "vienna-weather", map[string]any{})
	assert.ErrorIs(t, err, ErrRequestFailed)

	_, err = c.IndexDocument(context.Background(), "Bad Index", map[string]any{})
	assert.Error(t, err)
}

func TestClient_DeleteIndex(t *testing.T) {
	tests := []struct {
		status  int
		wantErr bool
	}{
		{http.StatusOK, false},
		{http.StatusNotFound, false},
		{http.StatusForbidden, true},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodDelete, r.Method)
			w.WriteHeader(tt.status)
		}))
		err := NewClient(srv.URL, time.Second).DeleteIndex(context.Background(), "vienna-pipeline-notifications")
		assert.Equal(t, tt.wantErr, err != nil, "status %d: err = %v", tt.status, err)
		srv.Close()
	}
}

func TestNotifier_Notify(t *testing.T) {
	var got models.Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/vienna-pipeline-notifications/_doc", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"_id":"1"}`))
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "vienna-pipeline-notifications", "vienna-weather", 2*time.Second, nil)
	n.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }

	ok := n.Notify(context.Background(), "pipeline-1714557600", "clone", models.StatusSuccess, "Repository cloned and validated")
	assert.True(t, ok)
	assert.Equal(t, models.Notification{
		PipelineID: "pipeline-1714557600",
		Timestamp:  "2024-05-01T10:00:00.000000",
		Stage:      "clone",
		Status:     "success",
		Details:    "Repository cloned and validated",
		Project:    "vienna-weather",
	}, got)
}

func TestNotifier_Notify_SilentOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	core, logs := observer.New(zap.DebugLevel)
	n := NewNotifier(base, "vienna-pipeline-notifications", "vienna-weather", 100*time.Millisecond, zap.New(core))

	ok := n.Notify(context.Background(), "pipeline-1", "build", models.StatusFailed, "boom")
	assert.False(t, ok)
	assert.Equal(t, 0, logs.FilterLevelExact(zap.WarnLevel).Len())
	assert.Equal(t, 1, logs.FilterMessage("pipeline notification not delivered").Len())
}
