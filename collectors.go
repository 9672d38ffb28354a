package costcollector

import (
	"fmt"
	"strings"
)

// A Collector gathers one artifact. Output is the artifact filename;
// collectors whose output is one of SourceNames feed the report.
type Collector struct {
	Name        string
	Output      string
	Description string

	collect func(exp *Expedition) (interface{}, error)
}

// Summarized reports whether the Aggregator reads this collector's
// artifact.
func (c Collector) Summarized() bool {
	return containsString(SourceNames, c.Output)
}

var collectors = []Collector{
	{"identity", SourceIdentity, "Caller identity (account, ARN)", (*Expedition).collectIdentity},
	{"cost-by-service", SourceCostByService, "Daily Cost Explorer spend grouped by service", (*Expedition).collectCostByService},
	{"cost-forecast", SourceForecast, "Cost Explorer unblended cost forecast", (*Expedition).collectForecast},
	{"multi-account-costs", "cost_by_account.json", "Cost Explorer spend grouped by linked account and service", (*Expedition).collectMultiAccountCosts},
	{"budgets", "budgets.json", "Existing AWS Budgets and alert threshold guidance", (*Expedition).collectBudgets},
	{"cost-anomalies", "cost_anomalies.json", "Cost Anomaly Detection monitors and recent anomalies", (*Expedition).collectAnomalies},
	{"savings-plans", SourceSavingsPlans, "Compute Savings Plans purchase recommendations", (*Expedition).collectSavingsPlans},
	{"reserved-instances", SourceReservations, "EC2 Reserved Instance purchase recommendations", (*Expedition).collectReservations},
	{"ec2-idle", SourceEC2Idle, "Idle or overprovisioned EC2 instances", (*Expedition).collectEC2Idle},
	{"ebs-optimizer", SourceEBS, "Unattached EBS volumes and volume recommendations", (*Expedition).collectEBS},
	{"lambda-optimizer", SourceLambda, "Lambda inventory and memory recommendations", (*Expedition).collectLambda},
	{"rds-rightsizing", SourceRDS, "RDS rightsizing recommendations and inventory", (*Expedition).collectRDS},
	{"nat-gateways", SourceNAT, "NAT gateway inventory and NAT spend", (*Expedition).collectNAT},
	{"logs-retention", SourceLogs, "Log groups without a retention policy", (*Expedition).collectLogsRetention},
	{"s3-lifecycle", SourceS3, "Buckets without a lifecycle configuration", (*Expedition).collectS3Lifecycle},
	{"ebs-snapshots", SourceSnapshots, "EBS snapshots older than the age threshold", (*Expedition).collectSnapshots},
	{"tag-compliance", SourceTags, "Resources missing required tags", (*Expedition).collectTagCompliance},
	{"graviton", "graviton_candidates.json", "x86 instances that could move to Graviton", (*Expedition).collectGraviton},
	{"aurora-serverless", "aurora_serverless.json", "Provisioned Aurora clusters that could run Serverless v2", (*Expedition).collectAurora},
	{"spot-advisor", "spot_prices.json", "Recent spot price history for the configured instance type", (*Expedition).collectSpotPrices},
	{"eks", "eks.json", "EKS clusters and their node groups", (*Expedition).collectEKS},
}

// Collectors returns every registered collector in run order.
func Collectors() []Collector {
	return append([]Collector(nil), collectors...)
}

// LookupCollector finds a collector by name.
func LookupCollector(name string) (Collector, bool) {
	for _, c := range collectors {
		if c.Name == name {
			return c, true
		}
	}
	return Collector{}, false
}

func selectCollectors(names []string) ([]Collector, error) {
	if len(names) == 0 {
		return Collectors(), nil
	}
	var selected []Collector
	var unknown []string
	for _, name := range dedupeString(names) {
		c, ok := LookupCollector(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		selected = append(selected, c)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown collector(s): %s", strings.Join(unknown, ", "))
	}
	return selected, nil
}

// orEmpty keeps artifacts carrying [] rather than null.
func orEmpty(items []interface{}) []interface{} {
	if items == nil {
		return []interface{}{}
	}
	return items
}

// firstN returns at most n leading items, never nil.
func firstN(items []interface{}, n int) []interface{} {
	if len(items) > n {
		return items[:n]
	}
	return orEmpty(items)
}

// pick copies the named fields of a record. Missing fields come out as
// null, the same as an absent attribute in the tool's own output.
func pick(record interface{}, keys ...string) map[string]interface{} {
	out := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		out[k] = lookup(record, k)
	}
	return out
}
