// Package elastic writes documents to Elasticsearch over its REST API.
package elastic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/kjstillabower/vienna-weather-pipeline/internal/models"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/validation"
)

// ErrRequestFailed is returned when Elasticsearch answers with a non-success status.
var ErrRequestFailed = errors.New("elasticsearch request failed")

// Client talks to one Elasticsearch node.
type Client struct {
	baseURL string
	http    *resty.Client
}

// NewClient returns a Client for baseURL with a per-request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    resty.New().SetTimeout(timeout).SetHeader("Content-Type", "application/json"),
	}
}

// IndexResponse is the subset of the _doc response we use.
type IndexResponse struct {
	ID     string `json:"_id"`
	Result string `json:"result"`
}

// IndexDocument POSTs doc to {index}/_doc and returns the generated document ID.
func (c *Client) IndexDocument(ctx context.Context, index string, doc any) (string, error) {
	if err := validation.ValidateIndexName(index); err != nil {
		return "", fmt.Errorf("%q: %w", index, err)
	}
	var out IndexResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(doc).
		SetResult(&out).
		Post(c.baseURL + "/" + index + "/_doc")
	if err != nil {
		return "", fmt.Errorf("index into %s: %w", index, err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return "", fmt.Errorf("%w: index into %s: HTTP %d: %s", ErrRequestFailed, index, resp.StatusCode(), resp.String())
	}
	return out.ID, nil
}

// DeleteIndex removes index; a missing index is not an error.
func (c *Client) DeleteIndex(ctx context.Context, index string) error {
	if err := validation.ValidateIndexName(index); err != nil {
		return fmt.Errorf("%q: %w", index, err)
	}
	resp, err := c.http.R().SetContext(ctx).Delete(c.baseURL + "/" + index)
	if err != nil {
		return fmt.Errorf("delete index %s: %w", index, err)
	}
	switch resp.StatusCode() {
	case http.StatusOK, http.StatusNotFound:
		return nil
	}
	return fmt.Errorf("%w: delete index %s: HTTP %d", ErrRequestFailed, index, resp.StatusCode())
}

// Notifier sends pipeline notifications. Failures never propagate: Elasticsearch may not be
// up yet while the pipeline is deploying it.
type Notifier struct {
	client  *Client
	index   string
	project string
	logger  *zap.Logger
	now     func() time.Time
}

// NewNotifier returns a Notifier writing to index with the given timeout (2s in the pipeline).
func NewNotifier(baseURL, index, project string, timeout time.Duration, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		client:  NewClient(baseURL, timeout),
		index:   index,
		project: project,
		logger:  logger,
		now:     time.Now,
	}
}

// Notify records one stage outcome. It returns whether the document was accepted.
func (n *Notifier) Notify(ctx context.Context, pipelineID, stage string, status models.StageStatus, details string) bool {
	doc := models.Notification{
		PipelineID: pipelineID,
		Timestamp:  n.now().Format("2006-01-02T15:04:05.000000"),
		Stage:      stage,
		Status:     string(status),
		Details:    details,
		Project:    n.project,
	}
	if _, err := n.client.IndexDocument(ctx, n.index, doc); err != nil {
		n.logger.Debug("pipeline notification not delivered",
			zap.String("stage", stage),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return false
	}
	return true
}
