package costcollector

import (
	"time"
)

// Cost Explorer pages with NextPageToken rather than the CLI's generic
// paginator.
const (
	ceTokenKey  = "NextPageToken"
	ceTokenFlag = "--next-page-token"
)

// softError turns a collector failure into an artifact so that the
// report shows defaults instead of the run aborting. Used only where the
// underlying API is commonly disabled for an account.
func (exp *Expedition) softError(collector string, err error) map[string]interface{} {
	exp.log.Warn("collector degraded", "collector", collector, "error", err.Error())
	return map[string]interface{}{"error": err.Error()}
}

func (exp *Expedition) collectIdentity() (interface{}, error) {
	return exp.querier.Invoke(exp.cmds.Global("sts", "get-caller-identity"))
}

func (exp *Expedition) collectCostByService() (interface{}, error) {
	start, end := exp.dateRange(exp.costDays)
	cmd := exp.cmds.Base("ce", "get-cost-and-usage",
		"--time-period", "Start="+start+",End="+end,
		"--granularity", "DAILY",
		"--metrics", "UnblendedCost",
		"--group-by", "Type=DIMENSION,Key=SERVICE",
	)
	periods, err := exp.paginate(cmd, "ResultsByTime", ceTokenKey, ceTokenFlag)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"TimePeriod":    map[string]interface{}{"Start": start, "End": end},
		"Granularity":   "DAILY",
		"ResultsByTime": periods,
	}, nil
}

func (exp *Expedition) collectForecast() (interface{}, error) {
	today := exp.now().UTC()
	start := today.Format("2006-01-02")
	end := today.Add(time.Duration(exp.forecastDays) * 24 * time.Hour).Format("2006-01-02")
	doc, err := exp.querier.Invoke(exp.cmds.Base("ce", "get-cost-forecast",
		"--metric", "UNBLENDED_COST",
		"--time-period", "Start="+start+",End="+end,
		"--granularity", "DAILY",
	))
	if err != nil {
		return exp.softError("cost-forecast", err), nil
	}
	return doc, nil
}

func (exp *Expedition) collectAnomalies() (interface{}, error) {
	monitors, err := exp.paginate(exp.cmds.Base("ce", "get-anomaly-monitors"), "AnomalyMonitors", ceTokenKey, ceTokenFlag)
	if err != nil {
		return nil, err
	}
	start, end := exp.dateRange(exp.forecastDays)
	anomalies := []interface{}{}
	for _, m := range monitors {
		arn := stringAt(m, "MonitorArn")
		if arn == "" {
			continue
		}
		found, err := exp.paginate(exp.cmds.Base("ce", "get-anomalies",
			"--monitor-arn", arn,
			"--date-interval", "StartDate="+start+",EndDate="+end,
		), "Anomalies", ceTokenKey, ceTokenFlag)
		if err != nil {
			return nil, err
		}
		anomalies = append(anomalies, found...)
	}
	return map[string]interface{}{"monitors": monitors, "anomalies": anomalies}, nil
}

func (exp *Expedition) collectSavingsPlans() (interface{}, error) {
	doc, err := exp.querier.Invoke(exp.cmds.Base("ce", "get-savings-plans-purchase-recommendation",
		"--savings-plans-type", "COMPUTE_SP",
		"--term-in-years", "ONE_YEAR",
		"--payment-option", "NO_UPFRONT",
		"--lookback-period-in-days", "THIRTY_DAYS",
	))
	if err != nil {
		return exp.softError("savings-plans", err), nil
	}
	return doc, nil
}

func (exp *Expedition) collectReservations() (interface{}, error) {
	doc, err := exp.querier.Invoke(exp.cmds.Base("ce", "get-reservation-purchase-recommendation",
		"--service", "Amazon Elastic Compute Cloud - Compute",
		"--lookback-period-in-days", "THIRTY_DAYS",
		"--term-in-years", "ONE_YEAR",
		"--payment-option", "NO_UPFRONT",
	))
	if err != nil {
		return exp.softError("reserved-instances", err), nil
	}
	return doc, nil
}

func (exp *Expedition) collectMultiAccountCosts() (interface{}, error) {
	start, end := exp.dateRange(exp.costDays)
	cmd := exp.cmds.Base("ce", "get-cost-and-usage",
		"--time-period", "Start="+start+",End="+end,
		"--granularity", "MONTHLY",
		"--metrics", "UnblendedCost",
		"--group-by", "Type=DIMENSION,Key=LINKED_ACCOUNT",
		"--group-by", "Type=DIMENSION,Key=SERVICE",
	)
	periods, err := exp.paginate(cmd, "ResultsByTime", ceTokenKey, ceTokenFlag)
	if err != nil {
		return nil, err
	}
	// the first group key is the linked account
	accounts := []interface{}{}
	for _, c := range ServiceCostRule.Rollup(Document{"ResultsByTime": periods}).Top(-1) {
		accounts = append(accounts, map[string]interface{}{"account": c.Name, "amount": c.Amount})
	}
	return map[string]interface{}{
		"TimePeriod":    map[string]interface{}{"Start": start, "End": end},
		"Granularity":   "MONTHLY",
		"ResultsByTime": periods,
		"accounts":      accounts,
	}, nil
}

func (exp *Expedition) collectBudgets() (interface{}, error) {
	identity, err := exp.querier.Invoke(exp.cmds.Global("sts", "get-caller-identity"))
	if err != nil {
		return nil, err
	}
	budgets, err := exp.paginate(exp.cmds.Base("budgets", "describe-budgets",
		"--account-id", stringAt(identity, "Account"),
	), "Budgets", "", "")
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"budgets": budgets,
		"recommendation": map[string]interface{}{
			"monthlyBudget": "Define a monthly budget per account and per critical service.",
			"alerts":        []string{"50%", "80%", "100%"},
		},
	}, nil
}
