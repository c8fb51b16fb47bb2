package deployments

import (
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"
)

var exportedMetrics = map[string]bool{
	"probe_sessions_total":                true,
	"probe_session_duration_seconds":      true,
	"probe_session_retries":               true,
	"probe_evaluations_total":             true,
	"probe_model_calls_total":             true,
	"probe_model_call_duration_seconds":   true,
	"probe_materialized_rows":             true,
	"probe_materialize_duration_ms":       true,
	"probe_http_requests_total":           true,
	"probe_http_request_duration_seconds": true,
}

var metricReference = regexp.MustCompile(`\bprobe_[a-z_]+`)

func TestPrometheusRulesContainExpectedAlerts(t *testing.T) {
	text := readAsset(t, "observability", "prometheus", "probe_rules.yaml")

	requiredAlerts := []string{
		"ProbeSessionSuccessRatioLow",
		"ProbeExhaustedRetriesHigh",
		"ProbeModelErrorsHigh",
		"ProbeSessionLatencyP95High",
		"ProbeHTTPErrorRateHigh",
	}
	for _, alertName := range requiredAlerts {
		if !strings.Contains(text, "alert: "+alertName) {
			t.Fatalf("rules missing alert %q", alertName)
		}
	}
}

func TestPrometheusRecordingRulesReferenceExportedMetrics(t *testing.T) {
	text := readAsset(t, "observability", "prometheus", "probe_recording_rules.yaml")

	requiredRecords := []string{
		"probe:slo_session_success_ratio_15m",
		"probe:slo_exhausted_retry_ratio_15m",
		"probe:slo_session_duration_seconds_p95",
		"probe:slo_first_pass_valid_ratio_15m",
		"probe:slo_model_error_rate_5m",
		"probe:slo_model_call_seconds_p95",
		"probe:slo_materialize_duration_ms_p95",
		"probe:slo_http_error_rate_5m",
	}
	for _, recordName := range requiredRecords {
		if !strings.Contains(text, "record: "+recordName) {
			t.Fatalf("recording rules missing record %q", recordName)
		}
	}

	for _, reference := range metricReference.FindAllString(text, -1) {
		name := strings.TrimSuffix(reference, "_bucket")
		if !exportedMetrics[name] {
			t.Fatalf("recording rules reference unknown metric %q", reference)
		}
	}
}

func TestAlertRulesOnlyUseRecordedSeries(t *testing.T) {
	records := readAsset(t, "observability", "prometheus", "probe_recording_rules.yaml")
	alerts := readAsset(t, "observability", "prometheus", "probe_rules.yaml")

	for _, series := range regexp.MustCompile(`probe:[a-z0-9_]+`).FindAllString(alerts, -1) {
		if !strings.Contains(records, "record: "+series) {
			t.Fatalf("alert uses unrecorded series %q", series)
		}
	}
}

func TestPrometheusScrapeExampleContainsMetricsPathAndRules(t *testing.T) {
	text := readAsset(t, "observability", "prometheus", "prometheus-scrape.example.yaml")

	for _, token := range []string{
		"metrics_path: /v1/metrics",
		"probe_rules.yaml",
		"probe_recording_rules.yaml",
		"job_name: probe-api",
	} {
		if !strings.Contains(text, token) {
			t.Fatalf("scrape example missing %q", token)
		}
	}
}

func readAsset(t *testing.T, parts ...string) string {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(append([]string{repoRoot(t), "deployments"}, parts...)...))
	if err != nil {
		t.Fatalf("read asset %s: %v", filepath.Join(parts...), err)
	}
	return string(content)
}

func repoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), ".."))
}
