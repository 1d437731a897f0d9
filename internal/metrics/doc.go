// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Connection counts and authentication outcomes
//   - Queue depth, enqueue/deliver rates, drops by reason and priority
//   - Relay publish/receive throughput and broker errors
//   - Rate limiter rejections
//   - Archive batch sizes and write latencies
package metrics
