package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/common/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/obsidianstack/slowatch/agent/internal/config"
)

// maxBodyBytes bounds how much of a response is read. Instant queries for
// a single ratio are tiny; anything larger is a misconfigured query.
const maxBodyBytes = 4 << 20

var tracer = otel.Tracer("github.com/obsidianstack/slowatch/agent/internal/backend")

// Measurement is one instant value returned by the backend.
type Measurement struct {
	Value float64

	// SampleTime is the evaluation timestamp reported by the backend.
	SampleTime time.Time
}

// Client executes instant queries. It is safe for concurrent use.
type Client struct {
	endpoint *url.URL
	client   *http.Client
	limiter  *rate.Limiter
}

// New builds a Client for cfg. The HTTP client is created once and reused.
func New(cfg config.BackendConfig) (*Client, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("backend: parse endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend: endpoint %q must be http or https", cfg.Endpoint)
	}

	limit := rate.Inf
	if cfg.MaxQPS > 0 {
		limit = rate.Limit(cfg.MaxQPS)
	}
	return &Client{
		endpoint: u,
		client:   buildHTTPClient(cfg),
		limiter:  rate.NewLimiter(limit, 1),
	}, nil
}

// Query runs expr as an instant query and returns the first sample.
func (c *Client) Query(ctx context.Context, expr string) (Measurement, error) {
	ctx, span := tracer.Start(ctx, "backend.Query",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("promql.query", expr)),
	)
	defer span.End()

	m, err := c.query(ctx, expr)
	span.SetAttributes(attribute.String("slo.outcome", Outcome(err)))
	if err != nil && !errors.Is(err, ErrNoData) {
		span.RecordError(err)
		span.SetStatus(codes.Error, Outcome(err))
	}
	return m, err
}

func (c *Client) query(ctx context.Context, expr string) (Measurement, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Measurement{}, &BackendError{Err: fmt.Errorf("rate limit wait: %w", err)}
	}

	u := c.endpoint.JoinPath("api", "v1", "query")
	u.RawQuery = url.Values{"query": {expr}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Measurement{}, &BackendError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Measurement{}, &BackendError{Err: fmt.Errorf("http get: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Measurement{}, &BackendError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Measurement{}, &BackendError{StatusCode: resp.StatusCode, Err: errors.New(snippet(body))}
	}
	return decode(body)
}

// apiResponse is the envelope of /api/v1/query.
type apiResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Data   *struct {
		ResultType string          `json:"resultType"`
		Result     json.RawMessage `json:"result"`
	} `json:"data"`
}

// decode turns a 2xx body into a Measurement.
func decode(body []byte) (Measurement, error) {
	var env apiResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return Measurement{}, &MalformedResponseError{Reason: "decode envelope", Err: err}
	}
	if env.Status == "error" {
		return Measurement{}, &BackendError{Err: fmt.Errorf("query error: %s", env.Error)}
	}
	if env.Data == nil {
		return Measurement{}, &MalformedResponseError{Reason: "missing data"}
	}
	if len(env.Data.Result) == 0 || string(env.Data.Result) == "null" {
		return Measurement{}, &MalformedResponseError{Reason: "missing data.result"}
	}

	var m Measurement
	switch env.Data.ResultType {
	case "vector", "":
		if err := checkFirstSample(env.Data.Result); err != nil {
			return Measurement{}, err
		}
		var vec model.Vector
		if err := json.Unmarshal(env.Data.Result, &vec); err != nil {
			return Measurement{}, &MalformedResponseError{Reason: "decode vector", Err: err}
		}
		if len(vec) == 0 {
			return Measurement{}, ErrNoData
		}
		m = Measurement{Value: float64(vec[0].Value), SampleTime: vec[0].Timestamp.Time()}

	case "scalar":
		var s model.Scalar
		if err := json.Unmarshal(env.Data.Result, &s); err != nil {
			return Measurement{}, &MalformedResponseError{Reason: "decode scalar", Err: err}
		}
		m = Measurement{Value: float64(s.Value), SampleTime: s.Timestamp.Time()}

	default:
		return Measurement{}, &MalformedResponseError{Reason: fmt.Sprintf("unsupported result type %q", env.Data.ResultType)}
	}

	// A ratio over zero traffic evaluates to NaN: there is nothing to compare.
	if math.IsNaN(m.Value) {
		return Measurement{}, ErrNoData
	}
	return m, nil
}

// checkFirstSample rejects a vector whose first element has no [ts, value]
// pair. model.Sample would otherwise decode it as a silent zero.
func checkFirstSample(raw json.RawMessage) error {
	var samples []struct {
		Value []json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &samples); err != nil {
		return &MalformedResponseError{Reason: "data.result is not a vector", Err: err}
	}
	if len(samples) > 0 && len(samples[0].Value) != 2 {
		return &MalformedResponseError{Reason: "sample value must be [timestamp, value]"}
	}
	return nil
}

// snippet returns a short single-line excerpt of body for error messages.
func snippet(body []byte) string {
	s := strings.Join(strings.Fields(string(body)), " ")
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		s = "empty body"
	}
	return s
}
