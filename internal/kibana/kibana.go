// Package kibana provisions the weather data view, visualizations and dashboard through the
// saved objects API.
package kibana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrSaveFailed is returned when Kibana rejects a saved object.
var ErrSaveFailed = errors.New("kibana saved object rejected")

// Client wraps the Kibana saved objects API.
type Client struct {
	baseURL string
	http    *resty.Client
}

// NewClient returns a Client for baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: resty.New().
			SetTimeout(timeout).
			SetHeader("kbn-xsrf", "true").
			SetHeader("Content-Type", "application/json"),
	}
}

// Reference links a saved object to another one.
type Reference struct {
	Name string `json:"name"`
	Type string `json:"type"`
	ID   string `json:"id"`
}

type savedObject struct {
	Attributes any         `json:"attributes"`
	References []Reference `json:"references,omitempty"`
}

// Save writes a saved object of type objType with id, overwriting an existing one.
func (c *Client) Save(ctx context.Context, objType, id string, attributes any, refs []Reference) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("overwrite", "true").
		SetBody(savedObject{Attributes: attributes, References: refs}).
		Post(fmt.Sprintf("%s/api/saved_objects/%s/%s", c.baseURL, objType, id))
	if err != nil {
		return fmt.Errorf("save %s %s: %w", objType, id, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%w: %s %s: HTTP %d: %s", ErrSaveFailed, objType, id, resp.StatusCode(), resp.String())
	}
	return nil
}

// DataView is the index-pattern saved object.
type DataView struct {
	Title         string `json:"title"`
	TimeFieldName string `json:"timeFieldName"`
}

// EnsureDataView creates or overwrites the index pattern id matching title.
func (c *Client) EnsureDataView(ctx context.Context, id, title, timeField string) error {
	return c.Save(ctx, "index-pattern", id, DataView{Title: title, TimeFieldName: timeField}, nil)
}

// Visualization is a saved visualization; VisState is the JSON-encoded vis definition.
type Visualization struct {
	Title                 string                `json:"title"`
	VisState              string                `json:"visState"`
	UIStateJSON           string                `json:"uiStateJSON"`
	Description           string                `json:"description"`
	KibanaSavedObjectMeta kibanaSavedObjectMeta `json:"kibanaSavedObjectMeta"`
}

type kibanaSavedObjectMeta struct {
	SearchSourceJSON string `json:"searchSourceJSON"`
}

// SaveVisualization writes a visualization bound to the data view dataViewID.
func (c *Client) SaveVisualization(ctx context.Context, id string, vis Visualization, dataViewID string) error {
	refs := []Reference{{
		Name: "kibanaSavedObjectMeta.searchSourceJSON.index",
		Type: "index-pattern",
		ID:   dataViewID,
	}}
	return c.Save(ctx, "visualization", id, vis, refs)
}

// Dashboard is the saved dashboard; PanelsJSON is the JSON-encoded panel list.
type Dashboard struct {
	Title                 string                `json:"title"`
	Description           string                `json:"description"`
	PanelsJSON            string                `json:"panelsJSON"`
	OptionsJSON           string                `json:"optionsJSON"`
	TimeRestore           bool                  `json:"timeRestore"`
	TimeFrom              string                `json:"timeFrom,omitempty"`
	TimeTo                string                `json:"timeTo,omitempty"`
	KibanaSavedObjectMeta kibanaSavedObjectMeta `json:"kibanaSavedObjectMeta"`
}

// SaveDashboard writes a dashboard whose panels reference visualizationIDs in order.
func (c *Client) SaveDashboard(ctx context.Context, id string, dash Dashboard, visualizationIDs []string) error {
	refs := make([]Reference, 0, len(visualizationIDs))
	for i, visID := range visualizationIDs {
		refs = append(refs, Reference{Name: panelRef(i), Type: "visualization", ID: visID})
	}
	return c.Save(ctx, "dashboard", id, dash, refs)
}

func panelRef(i int) string {
	return fmt.Sprintf("panel_%d", i)
}

// ProvisionSpec names the objects Provision creates.
type ProvisionSpec struct {
	DataViewID  string
	IndexTitle  string // e.g. "vienna-weather*"
	TimeField   string
	DashboardID string
	Title       string
	Metrics     []MetricPanel
}

// MetricPanel is one line chart of the average of Field over time.
type MetricPanel struct {
	ID    string
	Title string
	Field string
	Label string
}

// DefaultSpec returns the weather dashboard: temperature and humidity over time.
func DefaultSpec(dataViewID, index, dashboardID string) ProvisionSpec {
	return ProvisionSpec{
		DataViewID:  dataViewID,
		IndexTitle:  index + "*",
		TimeField:   "@timestamp",
		DashboardID: dashboardID,
		Title:       "Vienna Weather",
		Metrics: []MetricPanel{
			{ID: "vienna-temperature", Title: "Vienna Temperature", Field: "temperature", Label: "Temperature (°C)"},
			{ID: "vienna-humidity", Title: "Vienna Humidity", Field: "humidity", Label: "Humidity (%)"},
		},
	}
}

// ProvisionResult lists the saved objects written and the failures encountered.
type ProvisionResult struct {
	Created []string
	Errors  []error
}

// OK reports whether every object was saved.
func (r ProvisionResult) OK() bool {
	return len(r.Errors) == 0
}

// Provision writes the data view, one visualization per metric and the dashboard. Every object
// is attempted; failures are logged and collected.
func Provision(ctx context.Context, c *Client, spec ProvisionSpec, logger *zap.Logger) ProvisionResult {
	if logger == nil {
		logger = zap.NewNop()
	}
	var res ProvisionResult
	record := func(kind, id string, err error) bool {
		if err != nil {
			logger.Warn("kibana object not saved", zap.String("type", kind), zap.String("id", id), zap.Error(err))
			res.Errors = append(res.Errors, err)
			return false
		}
		logger.Info("kibana object saved", zap.String("type", kind), zap.String("id", id))
		res.Created = append(res.Created, kind+"/"+id)
		return true
	}

	record("index-pattern", spec.DataViewID, c.EnsureDataView(ctx, spec.DataViewID, spec.IndexTitle, spec.TimeField))

	var visIDs []string
	for _, m := range spec.Metrics {
		vis, err := lineChart(m)
		if err == nil {
			err = c.SaveVisualization(ctx, m.ID, vis, spec.DataViewID)
		}
		if record("visualization", m.ID, err) {
			visIDs = append(visIDs, m.ID)
		}
	}

	dash, err := dashboard(spec.Title, len(visIDs))
	if err == nil {
		err = c.SaveDashboard(ctx, spec.DashboardID, dash, visIDs)
	}
	record("dashboard", spec.DashboardID, err)
	return res
}

type visState struct {
	Title  string         `json:"title"`
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
	Aggs   []visAgg       `json:"aggs"`
}

type visAgg struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Schema string         `json:"schema"`
	Params map[string]any `json:"params"`
}

func lineChart(m MetricPanel) (Visualization, error) {
	state := visState{
		Title: m.Title,
		Type:  "line",
		Params: map[string]any{
			"addTooltip":     true,
			"addLegend":      true,
			"legendPosition": "right",
			"valueAxes": []map[string]any{{
				"id":    "ValueAxis-1",
				"title": map[string]string{"text": m.Label},
			}},
		},
		Aggs: []visAgg{
			{ID: "1", Type: "avg", Schema: "metric", Params: map[string]any{"field": m.Field, "customLabel": m.Label}},
			{ID: "2", Type: "date_histogram", Schema: "segment", Params: map[string]any{
				"field": "@timestamp", "interval": "auto", "min_doc_count": 1,
			}},
		},
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return Visualization{}, fmt.Errorf("encode visState: %w", err)
	}
	search, err := json.Marshal(map[string]any{
		"indexRefName": "kibanaSavedObjectMeta.searchSourceJSON.index",
		"query":        map[string]string{"query": "", "language": "kuery"},
		"filter":       []any{},
	})
	if err != nil {
		return Visualization{}, fmt.Errorf("encode searchSourceJSON: %w", err)
	}
	return Visualization{
		Title:                 m.Title,
		VisState:              string(stateJSON),
		UIStateJSON:           "{}",
		KibanaSavedObjectMeta: kibanaSavedObjectMeta{SearchSourceJSON: string(search)},
	}, nil
}

type panel struct {
	Version       string   `json:"version"`
	Type          string   `json:"type"`
	GridData      gridData `json:"gridData"`
	PanelIndex    string   `json:"panelIndex"`
	EmbeddableCfg struct{} `json:"embeddableConfig"`
	PanelRefName  string   `json:"panelRefName"`
}

type gridData struct {
	X int    `json:"x"`
	Y int    `json:"y"`
	W int    `json:"w"`
	H int    `json:"h"`
	I string `json:"i"`
}

// dashboard lays panels out two per row, 24 columns each.
func dashboard(title string, n int) (Dashboard, error) {
	panels := make([]panel, 0, n)
	for i := 0; i < n; i++ {
		idx := fmt.Sprintf("%d", i+1)
		panels = append(panels, panel{
			Version:      "8.11.0",
			Type:         "visualization",
			GridData:     gridData{X: (i % 2) * 24, Y: (i / 2) * 15, W: 24, H: 15, I: idx},
			PanelIndex:   idx,
			PanelRefName: panelRef(i),
		})
	}
	panelsJSON, err := json.Marshal(panels)
	if err != nil {
		return Dashboard{}, fmt.Errorf("encode panelsJSON: %w", err)
	}
	search, _ := json.Marshal(map[string]any{
		"query":  map[string]string{"query": "", "language": "kuery"},
		"filter": []any{},
	})
	return Dashboard{
		Title:                 title,
		Description:           "Hourly weather readings for Vienna",
		PanelsJSON:            string(panelsJSON),
		OptionsJSON:           `{"useMargins":true,"hidePanelTitles":false}`,
		TimeRestore:           true,
		TimeFrom:              "now-7d",
		TimeTo:                "now",
		KibanaSavedObjectMeta: kibanaSavedObjectMeta{SearchSourceJSON: string(search)},
	}, nil
}
