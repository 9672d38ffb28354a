package costcollector

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/inconshreveable/log15"
)

// An Expedition runs collectors against one account and region and
// writes their artifacts to a data directory. Create an ExpeditionInput
// and pass it to New, then call Start. Afterwards ExportReport renders
// the analysis report from whatever artifacts exist.
type Expedition struct {
	// Artifacts holds the paths written by the last call to Start, in
	// the order the collectors ran.
	Artifacts []string

	querier          Querier
	cmds             CommandBuilder
	maxPages         int
	snapshotDays     int
	costDays         int
	forecastDays     int
	requiredTags     []string
	spotInstanceType string
	dataDir          string
	outfileReport    string
	now              func() time.Time
	log              log15.Logger
	aggregator       *Aggregator
}

// ExpeditionInput provides configuration inputs for a new Expedition.
type ExpeditionInput struct {
	// Querier used to run every command. If nil an Invoker is built
	// from Binary, Region and Env.
	Querier Querier

	// Executable of the external cloud tool.
	// Default: "aws"
	Binary *string

	// Region passed to every regional command. Resolve it once,
	// usually through Config.
	// Default: "" (tool default)
	Region *string

	// Variables merged over the inherited environment when the
	// Expedition builds its own Invoker.
	Env map[string]string

	// Maximum pages per paginated query. Zero means no limit.
	// Default: 0
	MaxPages *int

	// Snapshots started more than SnapshotDays ago are reported as
	// cleanup candidates.
	// Default: 90
	SnapshotDays *int

	// Lookback for the cost-by-service collector.
	// Default: 90
	CostDays *int

	// Horizon for the cost-forecast collector.
	// Default: 30
	ForecastDays *int

	// Tag keys every resource is expected to carry.
	// Default: CostCenter, Owner, Environment, Application
	RequiredTags []string

	// Instance type sampled by the spot-advisor collector.
	// Default: "m6g.large"
	SpotInstanceType *string

	// Directory artifacts are written to and the report reads from.
	// Default: "reports/data"
	DataDir *string

	// If the ExportReport method is called the analysis is written to
	// this file.
	// Default: "reports/analysis.txt"
	OutfileReport *string

	// Clock used for lookback windows and the report timestamp.
	// Default: time.Now
	Now func() time.Time

	// Expedition uses log15 (https://github.com/inconshreveable/log15).
	// If no Logger is provided it sets up its own handler to stderr.
	Logger *log15.Logger
}

// DefaultRequiredTags are the tag keys checked by the tag-compliance
// collector when none are configured.
var DefaultRequiredTags = []string{"CostCenter", "Owner", "Environment", "Application"}

// New returns an Expedition configured from input, setting a default
// for every property that was not specified.
func New(input *ExpeditionInput) (exp *Expedition, err error) {
	if input == nil {
		input = &ExpeditionInput{}
	}
	var e Expedition

	if input.Logger == nil {
		e.log = defaultLogger(log15.LvlInfo)
	} else {
		e.log = *input.Logger
	}

	DefaultBinary := "aws"
	if input.Binary == nil || *input.Binary == "" {
		input.Binary = &DefaultBinary
	}
	e.cmds.Binary = *input.Binary
	if input.Region != nil {
		e.cmds.Region = *input.Region
	}

	e.querier = input.Querier
	if e.querier == nil {
		inv, err := NewInvoker(&InvokerInput{
			Binary: input.Binary,
			Region: input.Region,
			Env:    input.Env,
			Logger: &e.log,
		})
		if err != nil {
			return &e, err
		}
		e.querier = inv
	}

	if input.MaxPages != nil && *input.MaxPages > 0 {
		e.maxPages = *input.MaxPages
	}

	DefaultSnapshotDays := 90
	if input.SnapshotDays == nil {
		input.SnapshotDays = &DefaultSnapshotDays
	}
	e.snapshotDays = *input.SnapshotDays

	DefaultCostDays := 90
	if input.CostDays == nil {
		input.CostDays = &DefaultCostDays
	}
	e.costDays = *input.CostDays

	DefaultForecastDays := 30
	if input.ForecastDays == nil {
		input.ForecastDays = &DefaultForecastDays
	}
	e.forecastDays = *input.ForecastDays

	for _, days := range []int{e.snapshotDays, e.costDays, e.forecastDays} {
		if days <= 0 {
			return &e, fmt.Errorf("day windows must be positive, got %d", days)
		}
	}

	e.requiredTags = input.RequiredTags
	if len(e.requiredTags) == 0 {
		e.requiredTags = DefaultRequiredTags
	}

	DefaultSpotInstanceType := "m6g.large"
	if input.SpotInstanceType == nil || *input.SpotInstanceType == "" {
		input.SpotInstanceType = &DefaultSpotInstanceType
	}
	e.spotInstanceType = *input.SpotInstanceType

	DefaultDataDir := filepath.Join("reports", "data")
	if input.DataDir == nil || *input.DataDir == "" {
		input.DataDir = &DefaultDataDir
	}
	e.dataDir = *input.DataDir

	DefaultOutfileReport := filepath.Join("reports", "analysis.txt")
	if input.OutfileReport == nil || *input.OutfileReport == "" {
		input.OutfileReport = &DefaultOutfileReport
	}
	e.outfileReport = *input.OutfileReport

	e.now = input.Now
	if e.now == nil {
		e.now = time.Now
	}

	e.aggregator = NewAggregator(&AggregatorInput{CostDays: &e.costDays, Now: e.now, Logger: &e.log})
	return &e, err
}

// Start runs the named collectors one after another, or every collector
// when names is empty, and writes each artifact into the data directory.
// The first collector error stops the run.
func (exp *Expedition) Start(names ...string) (err error) {
	selected, err := selectCollectors(names)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(exp.dataDir, 0o755); err != nil {
		return err
	}
	exp.Artifacts = nil
	for _, c := range selected {
		exp.log.Info("running collector", "collector", c.Name, "region", exp.cmds.Region)
		data, err := c.collect(exp)
		if err != nil {
			exp.log.Error("collector failed", "collector", c.Name, "error", err.Error())
			return fmt.Errorf("collector %s: %w", c.Name, err)
		}
		path := filepath.Join(exp.dataDir, c.Output)
		if err = exp.writeArtifact(path, data); err != nil {
			return err
		}
		exp.Artifacts = append(exp.Artifacts, path)
	}
	exp.log.Info("expedition complete", "artifacts", len(exp.Artifacts))
	return err
}

// Collect runs a single collector and returns its artifact without
// writing anything.
func (exp *Expedition) Collect(name string) (data interface{}, err error) {
	c, ok := LookupCollector(name)
	if !ok {
		return nil, fmt.Errorf("unknown collector %q", name)
	}
	return c.collect(exp)
}

// ExportReport renders the analysis report from the data directory and
// writes it to the configured report file.
func (exp *Expedition) ExportReport() (err error) {
	return exp.aggregator.ExportReport(exp.dataDir, exp.outfileReport)
}

// writeArtifact writes data to a temporary file next to path and renames
// it into place, so a failed write leaves the previous artifact intact.
func (exp *Expedition) writeArtifact(path string, data interface{}) (err error) {
	file, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			file.Close()
			os.Remove(file.Name())
		}
	}()
	if err = WriteJSON(file, data); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err = file.Close(); err != nil {
		return err
	}
	if err = os.Chmod(file.Name(), 0o644); err != nil {
		return err
	}
	if err = os.Rename(file.Name(), path); err != nil {
		return err
	}
	exp.log.Info("wrote artifact to file", "filename", path)
	return nil
}

// WriteJSON writes v as indented JSON followed by a newline. Map keys
// come out sorted.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// paginate runs cmd through a Paginator built from the Expedition's page
// limit. Empty tokenKey and tokenFlag select the defaults.
func (exp *Expedition) paginate(cmd Command, resultKey, tokenKey, tokenFlag string) ([]interface{}, error) {
	p, err := NewPaginator(&PaginatorInput{
		Querier:   exp.querier,
		TokenFlag: &tokenFlag,
		MaxPages:  &exp.maxPages,
		Logger:    &exp.log,
	})
	if err != nil {
		return nil, err
	}
	return p.Paginate(cmd, resultKey, tokenKey)
}

// computeOptimizer probes Compute Optimizer enrollment and logs the
// outcome.
func (exp *Expedition) computeOptimizer() Capability {
	c := ProbeComputeOptimizer(exp.querier, exp.cmds)
	exp.log.Debug("compute optimizer enrollment", "state", c.String())
	return c
}

// dateRange returns ISO dates for [today-days, today] in UTC.
func (exp *Expedition) dateRange(days int) (start, end string) {
	today := exp.now().UTC()
	return today.AddDate(0, 0, -days).Format("2006-01-02"), today.Format("2006-01-02")
}
