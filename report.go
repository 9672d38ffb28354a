package costcollector

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/inconshreveable/log15"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Report source names. Each is the artifact filename written by the
// collector of the same purpose.
const (
	SourceIdentity      = "identity.json"
	SourceCostByService = "cost_by_service_90d.json"
	SourceForecast      = "forecast_30d.json"
	SourceSavingsPlans  = "sp_recommendations.json"
	SourceReservations  = "ri_ec2_recommendations.json"
	SourceEC2Idle       = "ec2_idle.json"
	SourceEBS           = "ebs_optimizer.json"
	SourceLambda        = "lambda_optimizer.json"
	SourceRDS           = "rds_rightsizing.json"
	SourceNAT           = "nat.json"
	SourceLogs          = "logs_retention.json"
	SourceS3            = "s3_lifecycle.json"
	SourceSnapshots     = "ebs_snapshots.json"
	SourceTags          = "tag_compliance.json"
)

// SourceNames lists every source the Aggregator reads, in load order.
var SourceNames = []string{
	SourceIdentity,
	SourceCostByService,
	SourceForecast,
	SourceSavingsPlans,
	SourceReservations,
	SourceEC2Idle,
	SourceEBS,
	SourceLambda,
	SourceRDS,
	SourceNAT,
	SourceLogs,
	SourceS3,
	SourceSnapshots,
	SourceTags,
}

// Sources maps a source name to its parsed document. A missing key and a
// nil Document both mean the source is absent.
type Sources map[string]Document

var (
	ec2Counter       = CounterRule{CountPath: []string{"count"}, ListPath: []string{"candidates"}, IDKeys: []string{"instanceId", "instanceArn"}}
	ebsCounter       = CounterRule{ListPath: []string{"unattached"}, IDKeys: []string{"VolumeId"}}
	lambdaCounter    = CounterRule{ListPath: []string{"computeOptimizer"}, IDKeys: []string{"functionArn"}}
	rdsCounter       = CounterRule{ListPath: []string{"rightsizing", "recommendations"}}
	natCounter       = CounterRule{CountPath: []string{"totalNatGateways"}, ListPath: []string{"items"}, IDKeys: []string{"NatGatewayId"}}
	logsCounter      = CounterRule{CountPath: []string{"withoutRetention"}, ListPath: []string{"candidates"}, IDKeys: []string{"logGroupName"}}
	s3Counter        = CounterRule{CountPath: []string{"withoutLifecycle"}, ListPath: []string{"buckets"}}
	snapshotsCounter = CounterRule{CountPath: []string{"olderThanThreshold"}, ListPath: []string{"candidates"}, IDKeys: []string{"SnapshotId"}}
	tagsCounter      = CounterRule{CountPath: []string{"nonCompliant"}, ListPath: []string{"items"}, IDKeys: []string{"id"}}
	natCostRule      = LastAmountRule{ListPath: []string{"natServiceCosts"}, AmountPath: []string{"Total", "UnblendedCost", "Amount"}}
)

// Summary holds every figure the report renders. It is built by
// Summarize with defaults already applied.
type Summary struct {
	Account         string
	Spend           float64
	Forecast        float64
	HasForecast     bool
	SavingsPlans    RecommendationSummary
	Reservations    RecommendationSummary
	EC2Rightsizing  Tally
	UnattachedEBS   Tally
	LambdaRecs      Tally
	RDSRightsizing  Tally
	NATGateways     Tally
	NATLastCost     float64
	LogsNoRetention Tally
	S3NoLifecycle   Tally
	OldSnapshots    Tally
	NonCompliant    Tally
	TopServices     []CategoryCost
}

// AggregatorInput provides configuration inputs for a new Aggregator.
type AggregatorInput struct {
	// Number of services listed in the ranked cost section.
	// Default: 10
	TopN *int

	// Number of trailing cost periods summed for the spend line. The
	// cost-by-service collector requests daily periods.
	// Default: 30
	SpendWindow *int

	// Lookback of the cost-by-service source, shown in the ranked cost
	// heading.
	// Default: 90
	CostDays *int

	// Clock for the generation timestamp line.
	// Default: time.Now
	Now func() time.Time

	Logger *log15.Logger
}

// Aggregator combines report sources into the textual analysis report.
// It never fails because of source data: absent or malformed sources
// render as documented defaults.
type Aggregator struct {
	topN        int
	spendWindow int
	costDays    int
	now         func() time.Time
	printer     *message.Printer
	log         log15.Logger
}

// NewAggregator returns an Aggregator with defaults set for anything
// missing from input.
func NewAggregator(input *AggregatorInput) *Aggregator {
	if input == nil {
		input = &AggregatorInput{}
	}
	var a Aggregator

	DefaultTopN := 10
	if input.TopN == nil || *input.TopN < 0 {
		input.TopN = &DefaultTopN
	}
	a.topN = *input.TopN

	DefaultSpendWindow := 30
	if input.SpendWindow == nil || *input.SpendWindow <= 0 {
		input.SpendWindow = &DefaultSpendWindow
	}
	a.spendWindow = *input.SpendWindow

	DefaultCostDays := 90
	if input.CostDays == nil || *input.CostDays <= 0 {
		input.CostDays = &DefaultCostDays
	}
	a.costDays = *input.CostDays

	a.now = input.Now
	if a.now == nil {
		a.now = time.Now
	}
	a.printer = message.NewPrinter(language.English)

	if input.Logger == nil {
		a.log = defaultLogger(log15.LvlInfo)
	} else {
		a.log = *input.Logger
	}
	return &a
}

// Summarize applies every extraction rule to sources.
func (a *Aggregator) Summarize(sources Sources) (s Summary) {
	s.Account = stringAt(sources[SourceIdentity], "Account")
	if s.Account == "" {
		s.Account = "N/A"
	}

	costs := ServiceCostRule.Rollup(sources[SourceCostByService])
	s.Spend = costs.LastPeriods(a.spendWindow)
	s.TopServices = costs.Top(a.topN)

	if v := lookup(sources[SourceForecast], "Total", "Amount"); v != nil {
		s.Forecast = toFloat(v)
		s.HasForecast = true
	}

	s.SavingsPlans = SavingsPlanRule.Summarize(sources[SourceSavingsPlans])
	s.Reservations = ReservationRule.Summarize(sources[SourceReservations])
	s.EC2Rightsizing = ec2Counter.Count(sources[SourceEC2Idle])
	s.UnattachedEBS = ebsCounter.Count(sources[SourceEBS])
	s.LambdaRecs = lambdaCounter.Count(sources[SourceLambda])
	s.RDSRightsizing = rdsCounter.Count(sources[SourceRDS])
	s.NATGateways = natCounter.Count(sources[SourceNAT])
	s.NATLastCost = natCostRule.Amount(sources[SourceNAT])
	s.LogsNoRetention = logsCounter.Count(sources[SourceLogs])
	s.S3NoLifecycle = s3Counter.Count(sources[SourceS3])
	s.OldSnapshots = snapshotsCounter.Count(sources[SourceSnapshots])
	s.NonCompliant = tagsCounter.Count(sources[SourceTags])
	return s
}

// Aggregate renders sources as report lines. Output depends only on
// sources, apart from the "Generated:" line.
func (a *Aggregator) Aggregate(sources Sources) []string {
	return a.Render(a.Summarize(sources))
}

// Render turns a Summary into report lines.
func (a *Aggregator) Render(s Summary) (lines []string) {
	forecast := "N/A"
	if s.HasForecast {
		forecast = a.money(s.Forecast)
	}
	lines = append(lines,
		"AWS Cost Optimization - Analysis Report",
		"Generated: "+a.now().UTC().Format("2006-01-02 15:04:05Z"),
		"",
		"Executive summary",
		"- Account: "+s.Account,
		fmt.Sprintf("- Estimated spend, last %d days: %s", a.spendWindow, a.money(s.Spend)),
		"- Cost forecast: "+forecast,
		fmt.Sprintf("- Savings Plans recommendations: %d (estimated savings: %s)", s.SavingsPlans.Count, a.money(s.SavingsPlans.EstimatedSavings)),
		fmt.Sprintf("- Reserved Instance recommendations (EC2): %d", s.Reservations.Count),
		fmt.Sprintf("- EC2 rightsizing candidates: %d", s.EC2Rightsizing.Count),
		fmt.Sprintf("- Unattached EBS volumes: %d", s.UnattachedEBS.Count),
		fmt.Sprintf("- Lambda recommendations (Compute Optimizer): %d", s.LambdaRecs.Count),
		fmt.Sprintf("- RDS rightsizing recommendations: %d", s.RDSRightsizing.Count),
		fmt.Sprintf("- NAT gateways: %d (latest cost: %s)", s.NATGateways.Count, a.money(s.NATLastCost)),
		fmt.Sprintf("- Log groups without retention: %d", s.LogsNoRetention.Count),
		fmt.Sprintf("- Buckets without lifecycle: %d", s.S3NoLifecycle.Count),
		fmt.Sprintf("- EBS snapshots over age threshold: %d", s.OldSnapshots.Count),
		fmt.Sprintf("- Resources missing required tags: %d", s.NonCompliant.Count),
		"",
		fmt.Sprintf("Top services by cost (%dd)", a.costDays),
	)
	if len(s.TopServices) == 0 {
		lines = append(lines, "- No data (enable Cost Explorer and run the cost-by-service collector)")
	}
	for _, svc := range s.TopServices {
		lines = append(lines, fmt.Sprintf("- %s: %s", svc.Name, a.money(svc.Amount)))
	}
	lines = append(lines, "", "Quick recommendations (data-driven)")
	recs := recommendations(s)
	if len(recs) == 0 {
		recs = []string{"- Nothing flagged by the collected data."}
	}
	return append(lines, recs...)
}

func recommendations(s Summary) (recs []string) {
	if s.EC2Rightsizing.Count > 0 {
		recs = append(recs, "- EC2: apply rightsizing to the detected candidates; evaluate a Graviton migration.")
	}
	if s.UnattachedEBS.Count > 0 {
		recs = append(recs, "- EBS: delete unattached volumes and review gp2 to gp3 conversions.")
	}
	if s.LogsNoRetention.Count > 0 {
		recs = append(recs, "- Logs: set an explicit retention (30-90d) and export history to S3.")
	}
	if s.S3NoLifecycle.Count > 0 {
		recs = append(recs, "- S3: add lifecycle rules (IA/Glacier) and expire temporary data.")
	}
	if s.OldSnapshots.Count > 0 {
		recs = append(recs, "- Snapshots: archive or delete old snapshots.")
	}
	if s.NonCompliant.Count > 0 {
		recs = append(recs, "- Governance: fix missing tags (CostCenter/Owner/Environment/Application).")
	}
	if s.SavingsPlans.Count > 0 || s.Reservations.Count > 0 {
		recs = append(recs, "- Commitments: review SP/RI recommendations and target 70-90% coverage of baseline usage.")
	}
	if s.NATGateways.Count > 0 {
		recs = append(recs, "- Network: use gateway endpoints (S3/DynamoDB) and consolidate NAT per AZ.")
	}
	return recs
}

func (a *Aggregator) money(v float64) string {
	return "$" + a.printer.Sprintf("%.2f", v)
}

// LoadSources reads every known source from dir. A file that is missing,
// unreadable, not JSON, or not a JSON object is left out of the result
// and logged; it is never an error.
func (a *Aggregator) LoadSources(dir string) Sources {
	sources := Sources{}
	for _, name := range SourceNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				a.log.Debug("report source missing", "source", name)
			} else {
				a.log.Warn("report source unreadable, using defaults", "source", name, "error", err.Error())
			}
			continue
		}
		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			a.log.Warn("report source is not a JSON object, using defaults", "source", name, "error", err.Error())
			continue
		}
		sources[name] = doc
	}
	return sources
}

// ExportReport loads the sources in dataDir, renders the report and
// writes it to outfile, replacing any previous report. Only failures to
// write the report are returned.
func (a *Aggregator) ExportReport(dataDir, outfile string) (err error) {
	lines := a.Aggregate(a.LoadSources(dataDir))
	if dir := filepath.Dir(outfile); dir != "" {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	err = os.WriteFile(outfile, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
	if err != nil {
		return err
	}
	a.log.Info("wrote report to file", "filename", outfile)
	return err
}
