package costcollector

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

func testAggregator() *Aggregator {
	logger := quietLogger()
	return NewAggregator(&AggregatorInput{Now: fixedNow, Logger: &logger})
}

func TestAggregateWithNoSources(t *testing.T) {
	want := []string{
		"AWS Cost Optimization - Analysis Report",
		"Generated: 2026-01-02 03:04:05Z",
		"",
		"Executive summary",
		"- Account: N/A",
		"- Estimated spend, last 30 days: $0.00",
		"- Cost forecast: N/A",
		"- Savings Plans recommendations: 0 (estimated savings: $0.00)",
		"- Reserved Instance recommendations (EC2): 0",
		"- EC2 rightsizing candidates: 0",
		"- Unattached EBS volumes: 0",
		"- Lambda recommendations (Compute Optimizer): 0",
		"- RDS rightsizing recommendations: 0",
		"- NAT gateways: 0 (latest cost: $0.00)",
		"- Log groups without retention: 0",
		"- Buckets without lifecycle: 0",
		"- EBS snapshots over age threshold: 0",
		"- Resources missing required tags: 0",
		"",
		"Top services by cost (90d)",
		"- No data (enable Cost Explorer and run the cost-by-service collector)",
		"",
		"Quick recommendations (data-driven)",
		"- Nothing flagged by the collected data.",
	}
	for _, sources := range []Sources{nil, {}, {SourceIdentity: nil, SourceNAT: nil}} {
		got := testAggregator().Aggregate(sources)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Aggregate() mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestAggregateWrongShapesFallBackToDefaults(t *testing.T) {
	sources := Sources{
		SourceIdentity:      {"Account": 123.0},
		SourceCostByService: {"ResultsByTime": map[string]interface{}{}},
		SourceForecast:      {"Total": "soon"},
		SourceSavingsPlans:  {"SavingsPlansPurchaseRecommendation": []interface{}{}},
		SourceEC2Idle:       {"count": "three", "candidates": "none"},
		SourceRDS:           {"rightsizing": nil},
		SourceNAT:           {"totalNatGateways": nil, "natServiceCosts": "x"},
		SourceTags:          {"nonCompliant": []interface{}{1.0}},
	}
	lines := testAggregator().Aggregate(sources)
	assert.Contains(t, lines, "- Account: N/A")
	assert.Contains(t, lines, "- Cost forecast: N/A")
	assert.Contains(t, lines, "- EC2 rightsizing candidates: 0")
	assert.Contains(t, lines, "- NAT gateways: 0 (latest cost: $0.00)")
	assert.Contains(t, lines, "- Resources missing required tags: 0")
	assert.Contains(t, lines, "- Nothing flagged by the collected data.")
}

func fullSources(t *testing.T) Sources {
	return Sources{
		SourceIdentity: mustDoc(t, `{"Account":"123456789012"}`),
		SourceCostByService: mustDoc(t, `{"ResultsByTime":[
			{"Groups":[{"Keys":["Amazon Elastic Compute Cloud - Compute"],"Metrics":{"UnblendedCost":{"Amount":"1000.01"}}},
			           {"Keys":["Amazon Simple Storage Service"],"Metrics":{"UnblendedCost":{"Amount":"234.5"}}}]},
			{"Groups":[{"Keys":["AWS Lambda"],"Metrics":{"UnblendedCost":{"Amount":"0.49"}}}]}
		]}`),
		SourceForecast:     mustDoc(t, `{"Total":{"Amount":"4321.1","Unit":"USD"}}`),
		SourceSavingsPlans: mustDoc(t, `{"SavingsPlansPurchaseRecommendation":{"SavingsPlansPurchaseRecommendationDetails":[{"EstimatedSavingsAmount":"100"},{"EstimatedSavingsAmount":"23.456"}]}}`),
		SourceReservations: mustDoc(t, `{"RecommendationSummaries":[{}]}`),
		SourceEC2Idle:      mustDoc(t, `{"count":4,"candidates":[]}`),
		SourceEBS:          mustDoc(t, `{"unattached":[{"VolumeId":"vol-1"},{"VolumeId":"vol-2"}]}`),
		SourceLambda:       mustDoc(t, `{"computeOptimizer":[{}]}`),
		SourceRDS:          mustDoc(t, `{"rightsizing":{"recommendations":[{},{},{}]}}`),
		SourceNAT:          mustDoc(t, `{"totalNatGateways":2,"natServiceCosts":[{"Total":{"UnblendedCost":{"Amount":"1"}}},{"Total":{"UnblendedCost":{"Amount":"65.4"}}}]}`),
		SourceLogs:         mustDoc(t, `{"withoutRetention":7}`),
		SourceS3:           mustDoc(t, `{"withoutLifecycle":0,"buckets":[]}`),
		SourceSnapshots:    mustDoc(t, `{"olderThanThreshold":12}`),
		SourceTags:         mustDoc(t, `{"nonCompliant":5}`),
	}
}

func TestAggregateFullSources(t *testing.T) {
	lines := testAggregator().Aggregate(fullSources(t))
	text := strings.Join(lines, "\n")

	for _, want := range []string{
		"- Account: 123456789012",
		"- Estimated spend, last 30 days: $1,235.00",
		"- Cost forecast: $4,321.10",
		"- Savings Plans recommendations: 2 (estimated savings: $123.46)",
		"- Reserved Instance recommendations (EC2): 1",
		"- EC2 rightsizing candidates: 4",
		"- Unattached EBS volumes: 2",
		"- Lambda recommendations (Compute Optimizer): 1",
		"- RDS rightsizing recommendations: 3",
		"- NAT gateways: 2 (latest cost: $65.40)",
		"- Log groups without retention: 7",
		"- Buckets without lifecycle: 0",
		"- EBS snapshots over age threshold: 12",
		"- Resources missing required tags: 5",
		"- Amazon Elastic Compute Cloud - Compute: $1,000.01\n- Amazon Simple Storage Service: $234.50\n- AWS Lambda: $0.49",
	} {
		assert.Contains(t, text, want)
	}

	recs := lines[len(lines)-7:]
	assert.Equal(t, "Quick recommendations (data-driven)", lines[len(lines)-8])
	assert.True(t, strings.HasPrefix(recs[0], "- EC2:"))
	assert.True(t, strings.HasPrefix(recs[1], "- EBS:"))
	assert.True(t, strings.HasPrefix(recs[2], "- Logs:"))
	assert.True(t, strings.HasPrefix(recs[3], "- Snapshots:"))
	assert.True(t, strings.HasPrefix(recs[4], "- Governance:"))
	assert.True(t, strings.HasPrefix(recs[5], "- Commitments:"))
	assert.True(t, strings.HasPrefix(recs[6], "- Network:"))
	assert.NotContains(t, text, "- S3:", "no lifecycle recommendation when the counter is zero")
	assert.NotContains(t, text, "Nothing flagged")
}

func TestAggregateIsDeterministic(t *testing.T) {
	logger := quietLogger()
	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	agg := NewAggregator(&AggregatorInput{Logger: &logger, Now: func() time.Time {
		tick = tick.Add(time.Hour)
		return tick
	}})

	first := agg.Aggregate(fullSources(t))
	second := agg.Aggregate(fullSources(t))
	require.NotEqual(t, first[1], second[1], "timestamp line changes between runs")
	first[1], second[1] = "", ""
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Aggregate() not deterministic (-first +second):\n%s", diff)
	}
}

func TestAggregateTopNAndWindow(t *testing.T) {
	logger := quietLogger()
	topN, window, costDays := 1, 1, 14
	agg := NewAggregator(&AggregatorInput{TopN: &topN, SpendWindow: &window, CostDays: &costDays, Now: fixedNow, Logger: &logger})
	lines := agg.Aggregate(fullSources(t))
	assert.Contains(t, lines, "Top services by cost (14d)")
	assert.NotContains(t, lines, "Top services by cost (90d)")
	assert.Contains(t, lines, "- Estimated spend, last 1 days: $0.49")
	assert.Contains(t, lines, "- Amazon Elastic Compute Cloud - Compute: $1,000.01")
	assert.NotContains(t, lines, "- Amazon Simple Storage Service: $234.50")
}

func writeSource(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadSourcesTreatsBadFilesAsAbsent(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, SourceIdentity, `{"Account":"111122223333"}`)
	writeSource(t, dir, SourceNAT, `{"totalNatGateways": 3,`)
	writeSource(t, dir, SourceLogs, `[1,2,3]`)
	writeSource(t, dir, SourceS3, `null`)
	writeSource(t, dir, "unrelated.json", `{"x":1}`)
	require.NoError(t, os.Mkdir(filepath.Join(dir, SourceTags), 0o755))

	sources := testAggregator().LoadSources(dir)
	assert.Len(t, sources, 2)
	assert.Equal(t, "111122223333", sources[SourceIdentity]["Account"])
	assert.Nil(t, sources[SourceS3])

	sources = testAggregator().LoadSources(filepath.Join(dir, "does-not-exist"))
	assert.Empty(t, sources)
}

func TestExportReportOverwrites(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out", "analysis.txt")
	writeSource(t, dir, SourceIdentity, `{"Account":"111122223333"}`)
	require.NoError(t, os.MkdirAll(filepath.Dir(out), 0o755))
	require.NoError(t, os.WriteFile(out, []byte(strings.Repeat("stale\n", 1000)), 0o644))

	require.NoError(t, testAggregator().ExportReport(dir, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	text := string(data)
	assert.NotContains(t, text, "stale")
	assert.True(t, strings.HasPrefix(text, "AWS Cost Optimization - Analysis Report\n"))
	assert.True(t, strings.HasSuffix(text, "- Nothing flagged by the collected data.\n"))
	assert.Contains(t, text, "- Account: 111122223333\n")
}

func TestExportReportWriteFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	err := testAggregator().ExportReport(dir, filepath.Join(blocker, "analysis.txt"))
	assert.Error(t, err)
}
