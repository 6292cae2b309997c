package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/labwatch/labwatch/internal/config"
)

const defaultPollTimeout = 10 * time.Second

// promSource reads device channels from a Prometheus exposition endpoint.
// Each channel maps to one metric family; multi-series families are summed.
type promSource struct {
	endpoint string
	metrics  map[string]string // channel -> metric family name
	client   *http.Client
}

func newPromSource(src config.SourceConfig) *promSource {
	return &promSource{
		endpoint: src.Endpoint,
		metrics:  src.Metrics,
		client:   &http.Client{Timeout: defaultPollTimeout},
	}
}

// Poll fetches the endpoint and maps the configured metric families onto
// channel values. A family absent from the scrape fails the whole poll; a
// partial reading would skew the detectors.
func (p *promSource) Poll(ctx context.Context) (map[string]float64, error) {
	mfs, err := fetchMetrics(ctx, p.client, p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("ingest: poll %q: %w", p.endpoint, err)
	}

	values := make(map[string]float64, len(p.metrics))
	for channel, family := range p.metrics {
		mf, ok := mfs[family]
		if !ok {
			return nil, fmt.Errorf("ingest: poll %q: metric family %q not exposed", p.endpoint, family)
		}
		values[channel] = sumFamily(mf)
	}
	return values, nil
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// A partial result with a non-fatal parse warning is still returned successfully.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
func sumFamily(mf *dto.MetricFamily) float64 {
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}
