package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/obsidianstack/slowatch/pkg/types"
)

// ErrNotConfigured is returned by Lookup for an unknown (service, metric) pair.
var ErrNotConfigured = errors.New("registry: pair not configured")

// ConfigError reports a malformed or ambiguous SLO configuration. It is fatal
// at startup: the agent never runs with a partially loaded registry.
type ConfigError struct {
	// Path locates the offending entry, e.g. `SLO_Queries[1].queries[0]`.
	Path string
	Msg  string
	Err  error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("registry: ")
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Msg)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Registry is the read-only set of configured queries.
type Registry struct {
	specs []types.QuerySpec
	index map[pairKey]int
}

type pairKey struct {
	service, metric string
}

// document mirrors the on-disk JSON layout.
type document struct {
	Services *[]serviceEntry `json:"SLO_Queries"`
}

type serviceEntry struct {
	Service string       `json:"service"`
	Queries []queryEntry `json:"queries"`
}

type queryEntry struct {
	Metric    string          `json:"metric"`
	Query     string          `json:"query"`
	TargetSLO json.RawMessage `json:"target_slo"`
}

// LoadFile opens path and calls Load.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Msg: "read " + path, Err: err}
	}
	return Load(bytes.NewReader(data))
}

// Load parses an SLO configuration document.
func Load(r io.Reader) (*Registry, error) {
	var doc document
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, &ConfigError{Msg: "parse json", Err: err}
	}
	if doc.Services == nil {
		return nil, &ConfigError{Msg: "missing SLO_Queries"}
	}

	reg := &Registry{index: make(map[pairKey]int)}
	for i, svc := range *doc.Services {
		svcPath := fmt.Sprintf("SLO_Queries[%d]", i)
		if strings.TrimSpace(svc.Service) == "" {
			return nil, &ConfigError{Path: svcPath, Msg: "service is required"}
		}
		for j, q := range svc.Queries {
			qPath := fmt.Sprintf("%s.queries[%d]", svcPath, j)
			spec, err := buildSpec(svc.Service, q)
			if err != nil {
				return nil, &ConfigError{Path: qPath, Msg: err.Error()}
			}
			key := pairKey{spec.Service, spec.Metric}
			if _, dup := reg.index[key]; dup {
				return nil, &ConfigError{
					Path: qPath,
					Msg:  fmt.Sprintf("duplicate pair (%s, %s)", spec.Service, spec.Metric),
				}
			}
			reg.index[key] = len(reg.specs)
			reg.specs = append(reg.specs, spec)
		}
	}
	return reg, nil
}

func buildSpec(service string, q queryEntry) (types.QuerySpec, error) {
	if strings.TrimSpace(q.Metric) == "" {
		return types.QuerySpec{}, errors.New("metric is required")
	}
	if strings.TrimSpace(q.Query) == "" {
		return types.QuerySpec{}, errors.New("query is required")
	}
	target, err := parseTarget(q.TargetSLO)
	if err != nil {
		return types.QuerySpec{}, err
	}
	return types.QuerySpec{
		Service:   service,
		Metric:    q.Metric,
		Query:     q.Query,
		TargetSLO: target,
	}, nil
}

// parseTarget accepts target_slo as a JSON number or a numeric string.
func parseTarget(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, errors.New("target_slo is required")
	}

	var v float64
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		v, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("target_slo %q is not a number", s)
		}
	} else if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("target_slo %s is not a number", raw)
	}

	// NaN fails both comparisons, so it is rejected here too.
	if !(v >= 0 && v <= 1) {
		return 0, fmt.Errorf("target_slo %v outside [0, 1]", v)
	}
	return v, nil
}

// Lookup returns the spec for (service, metric) or an error wrapping
// ErrNotConfigured.
func (r *Registry) Lookup(service, metric string) (types.QuerySpec, error) {
	i, ok := r.index[pairKey{service, metric}]
	if !ok {
		return types.QuerySpec{}, fmt.Errorf("%w: (%s, %s)", ErrNotConfigured, service, metric)
	}
	return r.specs[i], nil
}

// Specs returns every configured spec in file order. The slice is a copy.
func (r *Registry) Specs() []types.QuerySpec {
	out := make([]types.QuerySpec, len(r.specs))
	copy(out, r.specs)
	return out
}

// Len returns the number of configured pairs.
func (r *Registry) Len() int { return len(r.specs) }

// Services returns the distinct service names in file order.
func (r *Registry) Services() []string {
	var out []string
	seen := make(map[string]bool)
	for _, s := range r.specs {
		if !seen[s.Service] {
			seen[s.Service] = true
			out = append(out, s.Service)
		}
	}
	return out
}
