// Package config loads and watches the agent configuration file (config.yaml).
//
// Sections:
//   - agent: interval, slo_config path, metrics_port, concurrency,
//     sentinel_policy (reset|keep|zero), watch_config
//   - backend: endpoint, auth (cookie|bearer|basic|apikey|none), tls,
//     query_timeout, max_qps
//   - store: Postgres env var names, retry_interval, pending_limit
//   - deployments, incidents: the secondary 30-day collectors
//
// Secrets never live in the file. Fields ending in _env name the environment
// variable that holds the value; accessor methods (Token, Key, Password, DSN,
// APIKey) resolve them at call time.
//
// Watch(ctx, path, reload) uses fsnotify to notice edits. The agent does not
// hot-apply them.
package config
