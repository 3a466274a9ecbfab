// Package probe checks readiness of the stack services over their HTTP APIs.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/kjstillabower/vienna-weather-pipeline/internal/observability"
)

// ErrNotReady is returned by WaitReady when the service never answered successfully.
var ErrNotReady = errors.New("service not ready")

// Result is the outcome of one probe.
type Result struct {
	Service string        `json:"service"`
	URL     string        `json:"url"`
	OK      bool          `json:"ok"`
	Status  string        `json:"status"` // service-reported status (green, available, version)
	Detail  string        `json:"detail,omitempty"`
	Latency time.Duration `json:"latency"`
}

// Probe checks a single service.
type Probe interface {
	Name() string
	Check(ctx context.Context) Result
}

// httpProbe issues a GET and treats HTTP 200 as ready; parse extracts the reported status.
type httpProbe struct {
	name     string
	url      string
	client   *resty.Client
	username string
	password string
	parse    func(body []byte) string
}

func (p *httpProbe) Name() string { return p.name }

func (p *httpProbe) Check(ctx context.Context) Result {
	res := Result{Service: p.name, URL: p.url}
	start := time.Now()

	req := p.client.R().SetContext(ctx).SetHeader("Accept", "application/json")
	if p.username != "" {
		req.SetBasicAuth(p.username, p.password)
	}
	resp, err := req.Get(p.url)
	res.Latency = time.Since(start)
	observability.ProbeDuration.WithLabelValues(p.name).Observe(res.Latency.Seconds())

	switch {
	case err != nil:
		res.Status = "unreachable"
		res.Detail = err.Error()
	case resp.StatusCode() != 200:
		res.Status = fmt.Sprintf("http_%d", resp.StatusCode())
		res.Detail = truncate(strings.TrimSpace(resp.String()), 200)
	default:
		res.OK = true
		res.Status = "ok"
		if p.parse != nil {
			if s := p.parse(resp.Body()); s != "" {
				res.Status = s
			}
		}
	}

	label := "ok"
	if !res.OK {
		label = "fail"
	}
	observability.ProbeResultsTotal.WithLabelValues(p.name, label).Inc()
	return res
}

// NewClient returns the resty client shared by the probes.
func NewClient(timeout time.Duration) *resty.Client {
	return resty.New().SetTimeout(timeout)
}

// Elasticsearch probes GET {base}/_cluster/health and reports the cluster status.
func Elasticsearch(client *resty.Client, base string) Probe {
	return &httpProbe{
		name:   "elasticsearch",
		url:    strings.TrimRight(base, "/") + "/_cluster/health",
		client: client,
		parse: func(body []byte) string {
			var h struct {
				Status string `json:"status"`
			}
			if json.Unmarshal(body, &h) != nil {
				return ""
			}
			return h.Status
		},
	}
}

// Kibana probes GET {base}/api/status and reports the overall level (8.x) or state (7.x).
func Kibana(client *resty.Client, base string) Probe {
	return &httpProbe{
		name:   "kibana",
		url:    strings.TrimRight(base, "/") + "/api/status",
		client: client,
		parse: func(body []byte) string {
			var s struct {
				Status struct {
					Overall struct {
						Level string `json:"level"`
						State string `json:"state"`
					} `json:"overall"`
				} `json:"status"`
			}
			if json.Unmarshal(body, &s) != nil {
				return ""
			}
			if s.Status.Overall.Level != "" {
				return s.Status.Overall.Level
			}
			return s.Status.Overall.State
		},
	}
}

// RabbitMQ probes GET {base}/api/overview with basic auth and reports the broker version.
func RabbitMQ(client *resty.Client, base, username, password string) Probe {
	return &httpProbe{
		name:     "rabbitmq",
		url:      strings.TrimRight(base, "/") + "/api/overview",
		client:   client,
		username: username,
		password: password,
		parse: func(body []byte) string {
			var o struct {
				Version string `json:"rabbitmq_version"`
			}
			if json.Unmarshal(body, &o) != nil || o.Version == "" {
				return ""
			}
			return "rabbitmq " + o.Version
		},
	}
}

// Logstash probes the node info API at GET {base}/.
func Logstash(client *resty.Client, base string) Probe {
	return &httpProbe{
		name:   "logstash",
		url:    strings.TrimRight(base, "/") + "/",
		client: client,
		parse: func(body []byte) string {
			var n struct {
				Status string `json:"status"`
			}
			if json.Unmarshal(body, &n) != nil {
				return ""
			}
			return n.Status
		},
	}
}

// URL probes an arbitrary URL; used for the outbound connectivity check.
func URL(client *resty.Client, name, url string) Probe {
	return &httpProbe{name: name, url: url, client: client}
}

// WaitReady polls p until it succeeds, attempts run out, or ctx is done. The last result is
// always returned.
func WaitReady(ctx context.Context, p Probe, attempts int, interval time.Duration, logger *zap.Logger) (Result, error) {
	if attempts < 1 {
		attempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var res Result
	for attempt := 1; attempt <= attempts; attempt++ {
		res = p.Check(ctx)
		if res.OK {
			logger.Info("service ready",
				zap.String("service", res.Service),
				zap.String("status", res.Status),
				zap.Int("attempt", attempt),
			)
			return res, nil
		}
		if attempt == attempts {
			break
		}
		logger.Debug("service not ready yet",
			zap.String("service", res.Service),
			zap.String("status", res.Status),
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", attempts),
		)
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(interval):
		}
	}
	return res, fmt.Errorf("%s after %d attempts: %w (%s)", res.Service, attempts, ErrNotReady, res.Status)
}

// CheckAll runs every probe once, in order.
func CheckAll(ctx context.Context, probes []Probe) []Result {
	results := make([]Result, 0, len(probes))
	for _, p := range probes {
		results = append(results, p.Check(ctx))
	}
	return results
}

// CountOK returns how many results succeeded.
func CountOK(results []Result) int {
	n := 0
	for _, r := range results {
		if r.OK {
			n++
		}
	}
	return n
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
