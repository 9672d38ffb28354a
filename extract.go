package costcollector

import (
	"fmt"
	"sort"
)

// MaxSample caps every sample list carried in an artifact or a Tally so
// that reports stay a readable length.
const MaxSample = 500

// CategoryCost is one entry of a ranked cost list.
type CategoryCost struct {
	Name   string
	Amount float64
}

// CostRollupRule describes where a time-bucketed cost document keeps its
// periods, groups, category keys and amounts. The zero value is not
// useful; start from ServiceCostRule.
type CostRollupRule struct {
	PeriodsKey string
	GroupsKey  string
	KeysKey    string
	AmountPath []string
	// Category used when a group carries no keys.
	Unknown string
}

// ServiceCostRule reads Cost Explorer get-cost-and-usage output grouped
// by a single dimension.
var ServiceCostRule = CostRollupRule{
	PeriodsKey: "ResultsByTime",
	GroupsKey:  "Groups",
	KeysKey:    "Keys",
	AmountPath: []string{"Metrics", "UnblendedCost", "Amount"},
	Unknown:    "Unknown",
}

// CostRollup is a category to amount mapping that remembers the order in
// which categories were first seen, plus the total for each period.
type CostRollup struct {
	order   []string
	totals  map[string]float64
	periods []float64
}

// Rollup walks doc's periods and groups. Anything missing or of the wrong
// shape contributes nothing; unparsable amounts count as 0. A nil doc
// gives an empty rollup.
func (r CostRollupRule) Rollup(doc Document) *CostRollup {
	cr := &CostRollup{totals: map[string]float64{}}
	for _, period := range listAt(doc, r.PeriodsKey) {
		var periodTotal float64
		for _, g := range listAt(period, r.GroupsKey) {
			category := r.Unknown
			if keys := listAt(g, r.KeysKey); len(keys) > 0 {
				if s, ok := keys[0].(string); ok {
					category = s
				} else if keys[0] != nil {
					category = fmt.Sprint(keys[0])
				}
			}
			amount := toFloat(lookup(g, r.AmountPath...))
			cr.add(category, amount)
			periodTotal += amount
		}
		cr.periods = append(cr.periods, periodTotal)
	}
	return cr
}

func (cr *CostRollup) add(category string, amount float64) {
	if _, seen := cr.totals[category]; !seen {
		cr.order = append(cr.order, category)
	}
	cr.totals[category] += amount
}

// Amount returns the summed amount for category.
func (cr *CostRollup) Amount(category string) float64 {
	return cr.totals[category]
}

// Len returns the number of distinct categories.
func (cr *CostRollup) Len() int {
	return len(cr.order)
}

// Top returns up to n categories by descending amount. Ties keep the
// order in which the categories were first seen.
func (cr *CostRollup) Top(n int) []CategoryCost {
	ranked := make([]CategoryCost, 0, len(cr.order))
	for _, name := range cr.order {
		ranked = append(ranked, CategoryCost{Name: name, Amount: cr.totals[name]})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Amount > ranked[j].Amount
	})
	if n >= 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// LastPeriods sums the final k periods in document order. It is a suffix
// of the period list, not a date filter.
func (cr *CostRollup) LastPeriods(k int) (total float64) {
	start := len(cr.periods) - k
	if start < 0 {
		start = 0
	}
	for _, p := range cr.periods[start:] {
		total += p
	}
	return total
}

// ShapeProbe is a path to a candidate list inside a document.
type ShapeProbe []string

// RecommendationRule counts the entries of a recommendation list whose
// location varies between sources. Probes are tried in order and the
// first one that resolves to a list wins, even when that list is empty.
type RecommendationRule struct {
	Probes     []ShapeProbe
	SavingsKey string
}

// SavingsPlanRule reads get-savings-plans-purchase-recommendation output.
var SavingsPlanRule = RecommendationRule{
	Probes: []ShapeProbe{
		{"SavingsPlansPurchaseRecommendation", "SavingsPlansPurchaseRecommendationDetails"},
	},
	SavingsKey: "EstimatedSavingsAmount",
}

// ReservationRule reads get-reservation-purchase-recommendation output,
// whose list has appeared under two different names.
var ReservationRule = RecommendationRule{
	Probes: []ShapeProbe{
		{"Recommendations"},
		{"RecommendationSummaries"},
	},
}

// RecommendationSummary is what a RecommendationRule extracts.
type RecommendationSummary struct {
	Count            int
	EstimatedSavings float64
	// Matched is the index of the probe that matched, or -1.
	Matched int
}

// Summarize applies the rule to doc. Entries whose savings field is
// missing or unparsable are still counted but add nothing to the total.
func (r RecommendationRule) Summarize(doc Document) RecommendationSummary {
	sum := RecommendationSummary{Matched: -1}
	for i, probe := range r.Probes {
		recs, ok := lookup(doc, probe...).([]interface{})
		if !ok {
			continue
		}
		sum.Matched = i
		sum.Count = len(recs)
		if r.SavingsKey != "" {
			for _, rec := range recs {
				sum.EstimatedSavings += toFloat(lookup(rec, r.SavingsKey))
			}
		}
		break
	}
	return sum
}

// Tally is a count of offending items plus a bounded sample of their
// identifiers.
type Tally struct {
	Count  int
	Sample []string
}

// NewTally counts ids and keeps at most MaxSample of them.
func NewTally(ids []string) Tally {
	t := Tally{Count: len(ids)}
	if len(ids) > MaxSample {
		ids = ids[:MaxSample]
	}
	t.Sample = append([]string{}, ids...)
	return t
}

// CounterRule reduces a source to a Tally. CountPath names an explicit
// count field; when it is missing the length of the list at ListPath is
// used instead. IDKeys are tried in order to name each listed record;
// plain string entries name themselves.
type CounterRule struct {
	CountPath []string
	ListPath  []string
	IDKeys    []string
}

// Count applies the rule to doc. A nil doc gives a zero Tally.
func (r CounterRule) Count(doc Document) Tally {
	var ids []string
	var list []interface{}
	if len(r.ListPath) > 0 {
		list = listAt(doc, r.ListPath...)
	}
	for _, item := range list {
		if id := recordID(item, r.IDKeys); id != "" {
			ids = append(ids, id)
		}
	}
	t := NewTally(ids)
	t.Count = len(list)
	if len(r.CountPath) > 0 {
		if v := lookup(doc, r.CountPath...); v != nil {
			if _, isNum := v.(float64); isNum {
				t.Count = toInt(v)
			}
		}
	}
	return t
}

func recordID(item interface{}, keys []string) string {
	if s, ok := item.(string); ok {
		return s
	}
	for _, k := range keys {
		if s := stringAt(item, k); s != "" {
			return s
		}
	}
	return ""
}

// LastAmountRule reads a numeric amount from the final element of a list,
// such as the most recent period of a cost series.
type LastAmountRule struct {
	ListPath   []string
	AmountPath []string
}

// Amount returns the amount, or 0 when the list is empty or the field is
// missing.
func (r LastAmountRule) Amount(doc Document) float64 {
	list := listAt(doc, r.ListPath...)
	if len(list) == 0 {
		return 0
	}
	return toFloat(lookup(list[len(list)-1], r.AmountPath...))
}
