//go:build integration
// +build integration

package elastic_test

import (
	"context"
	"testing"
	"time"

	"github.com/kjstillabower/vienna-weather-pipeline/internal/elastic"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/models"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/probe"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/testhelpers"
)

func TestIntegration_NotifierIndexesStage(t *testing.T) {
	cfg := testhelpers.GetStackConfig(t)
	testhelpers.RequireService(t, probe.Elasticsearch(probe.NewClient(3*time.Second), cfg.ElasticsearchURL))

	index := testhelpers.UniqueName("vienna-pipeline-it")
	c := elastic.NewClient(cfg.ElasticsearchURL, 5*time.Second)
	t.Cleanup(func() { _ = c.DeleteIndex(context.Background(), index) })

	n := elastic.NewNotifier(cfg.ElasticsearchURL, index, "vienna-weather-monitor", 2*time.Second, nil)
	if !n.Notify(context.Background(), "pipeline-it", "clone", models.StatusSuccess, "Repository cloned and validated") {
		t.Fatal("Notify() = false, want true")
	}

	id, err := c.IndexDocument(context.Background(), index, map[string]string{"stage": "build"})
	if err != nil {
		t.Fatalf("IndexDocument() error = %v", err)
	}
	if id == "" {
		t.Error("IndexDocument() returned empty id")
	}
}
