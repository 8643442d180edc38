package core

import "context"

// Counter names recorded outside the per-operation pairs derived by
// observeOperation. Exported so operators can pre-register them with
// their metrics backend.
const (
	// MetricTokenFastPath counts EnsureUsable calls answered from the
	// stored credential with no provider traffic. A low ratio against
	// MetricTokenRefreshed means the sweeper is not keeping up.
	MetricTokenFastPath = "billing.token.fast_path.total"

	// MetricTokenRefreshed counts committed provider refreshes, one per
	// flight regardless of how many callers shared it.
	MetricTokenRefreshed = "billing.token.refreshed.total"

	// MetricConnectionDemotions counts connections dropped to inactive
	// after a refresh or decryption failure. Each one is a user who has
	// to reconnect.
	MetricConnectionDemotions = "billing.connection.demoted.total"
)

// operationMetricNames derives the counter and histogram recorded for
// every service operation.
func operationMetricNames(operation string) (counter string, histogram string) {
	return "billing." + operation + ".total", "billing." + operation + ".duration_ms"
}

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

var _ MetricsRecorder = NopMetricsRecorder{}
