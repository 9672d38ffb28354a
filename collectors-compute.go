package costcollector

import (
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws/arn"
)

// Compute Optimizer uses lower-case nextToken and --next-token.
const (
	coTokenKey  = "nextToken"
	coTokenFlag = "--next-token"
)

// overprovisioned lists Compute Optimizer findings worth acting on.
var overprovisioned = []string{"Overprovisioned", "NotOptimized"}

// gravitonFamilies are instance type prefixes that already run on ARM.
var gravitonFamilies = []string{"t4g", "m6g", "c6g", "r6g", "m7g", "c7g", "r7g"}

// instanceIDFromARN extracts "i-0abc" from an EC2 instance ARN. It
// returns "" for anything that is not an instance ARN.
func instanceIDFromARN(s string) string {
	a, err := arn.Parse(s)
	if err != nil || !strings.HasPrefix(a.Resource, "instance/") {
		return ""
	}
	return strings.TrimPrefix(a.Resource, "instance/")
}

func (exp *Expedition) collectEC2Idle() (interface{}, error) {
	region := exp.cmds.Region
	if exp.computeOptimizer().Enabled() {
		recs, err := exp.paginate(
			exp.cmds.Base("compute-optimizer", "get-ec2-instance-recommendations", "--max-results", "100"),
			"instanceRecommendations", coTokenKey, coTokenFlag,
		)
		if err != nil {
			return nil, err
		}
		candidates := []interface{}{}
		for _, rec := range recs {
			finding := stringAt(rec, "finding")
			if !containsString(overprovisioned, finding) {
				continue
			}
			instanceArn := stringAt(rec, "instanceArn")
			candidates = append(candidates, map[string]interface{}{
				"instanceArn":           instanceArn,
				"instanceId":            instanceIDFromARN(instanceArn),
				"instanceName":          stringAt(rec, "instanceName"),
				"currentInstanceType":   stringAt(rec, "currentInstanceType"),
				"finding":               finding,
				"utilizationMetrics":    orEmpty(listAt(rec, "utilizationMetrics")),
				"recommendationOptions": firstN(listAt(rec, "recommendationOptions"), 3),
			})
		}
		return map[string]interface{}{
			"source":     "compute-optimizer",
			"region":     region,
			"count":      len(candidates),
			"candidates": candidates,
		}, nil
	}
	// fall back to Cost Explorer rightsizing when Compute Optimizer is
	// disabled or its status could not be read
	doc, err := exp.querier.Invoke(exp.cmds.Base("ce", "get-rightsizing-recommendations", "--service", "AmazonEC2"))
	if err != nil {
		exp.log.Warn("rightsizing fallback failed", "error", err.Error())
		return map[string]interface{}{"source": "none", "region": region, "error": err.Error()}, nil
	}
	recs := listAt(doc, "RightsizingRecommendations")
	return map[string]interface{}{
		"source":     "ce-rightsizing",
		"region":     region,
		"count":      len(recs),
		"candidates": firstN(recs, 200),
	}, nil
}

func (exp *Expedition) collectEBS() (interface{}, error) {
	vols, err := exp.paginate(exp.cmds.Base("ec2", "describe-volumes", "--max-results", "500"), "Volumes", "", "")
	if err != nil {
		return nil, err
	}
	unattached := []interface{}{}
	for _, v := range vols {
		if truthy(lookup(v, "Attachments")) {
			continue
		}
		unattached = append(unattached, pick(v, "VolumeId", "Size", "VolumeType", "Iops", "Throughput"))
	}
	recs := []interface{}{}
	if exp.computeOptimizer().Enabled() {
		recs, err = exp.paginate(
			exp.cmds.Base("compute-optimizer", "get-ebs-volume-recommendations", "--max-results", "100"),
			"volumeRecommendations", coTokenKey, coTokenFlag,
		)
		if err != nil {
			return nil, err
		}
	}
	return map[string]interface{}{
		"region":           exp.cmds.Region,
		"unattached":       unattached,
		"computeOptimizer": recs,
	}, nil
}

func (exp *Expedition) collectLambda() (interface{}, error) {
	fns, err := exp.paginate(exp.cmds.Base("lambda", "list-functions"), "Functions", "", "")
	if err != nil {
		return nil, err
	}
	inventory := make([]interface{}, 0, len(fns))
	for _, f := range fns {
		inventory = append(inventory, pick(f, "FunctionName", "MemorySize", "Timeout", "Runtime", "LastModified"))
	}
	recs := []interface{}{}
	if exp.computeOptimizer().Enabled() {
		recs, err = exp.paginate(
			exp.cmds.Base("compute-optimizer", "get-lambda-function-recommendations", "--max-results", "100"),
			"lambdaFunctionRecommendations", coTokenKey, coTokenFlag,
		)
		if err != nil {
			// lambda recommendations lag behind EC2 enrollment
			exp.log.Warn("lambda recommendations unavailable", "error", err.Error())
			recs = []interface{}{}
		}
	}
	return map[string]interface{}{
		"region":           exp.cmds.Region,
		"inventory":        inventory,
		"computeOptimizer": recs,
	}, nil
}

func (exp *Expedition) collectRDS() (interface{}, error) {
	rightsizing := map[string]interface{}{"source": "ce", "recommendations": []interface{}{}}
	doc, err := exp.querier.Invoke(exp.cmds.Base("ce", "get-rightsizing-recommendations", "--service", "AmazonRDS"))
	if err != nil {
		exp.log.Warn("rds rightsizing unavailable", "error", err.Error())
		rightsizing["error"] = err.Error()
	} else {
		rightsizing["recommendations"] = orEmpty(listAt(doc, "RightsizingRecommendations"))
	}
	dbs, err := exp.paginate(exp.cmds.Base("rds", "describe-db-instances"), "DBInstances", "", "")
	if err != nil {
		return nil, err
	}
	inventory := make([]interface{}, 0, len(dbs))
	for _, d := range dbs {
		inventory = append(inventory, pick(d, "DBInstanceIdentifier", "DBInstanceClass", "Engine", "AllocatedStorage", "MultiAZ"))
	}
	return map[string]interface{}{
		"region":      exp.cmds.Region,
		"rightsizing": rightsizing,
		"inventory":   inventory,
	}, nil
}

func (exp *Expedition) collectNAT() (interface{}, error) {
	ngws, err := exp.paginate(exp.cmds.Base("ec2", "describe-nat-gateways", "--max-results", "1000"), "NatGateways", "", "")
	if err != nil {
		return nil, err
	}
	items := make([]interface{}, 0, len(ngws))
	for _, n := range ngws {
		item := pick(n, "NatGatewayId", "State", "SubnetId", "VpcId", "ConnectivityType")
		item["Tags"] = orEmpty(listAt(n, "Tags"))
		items = append(items, item)
	}
	start, end := exp.dateRange(30)
	costs, err := exp.paginate(exp.cmds.Base("ce", "get-cost-and-usage",
		"--time-period", "Start="+start+",End="+end,
		"--granularity", "MONTHLY",
		"--metrics", "UnblendedCost",
		"--filter", `{"Dimensions":{"Key":"SERVICE","Values":["AWSNATGateway"]}}`,
	), "ResultsByTime", ceTokenKey, ceTokenFlag)
	if err != nil {
		exp.log.Warn("nat cost lookup failed", "error", err.Error())
		costs = []interface{}{}
	}
	return map[string]interface{}{
		"region":           exp.cmds.Region,
		"totalNatGateways": len(ngws),
		"items":            items,
		"natServiceCosts":  costs,
		"recommendations": []string{
			"Use gateway endpoints for S3/DynamoDB in VPCs with NAT to cut egress.",
			"Consolidate NAT per AZ and avoid cross-AZ traffic.",
			"Review default routes and private interface endpoints.",
		},
	}, nil
}

// instances flattens describe-instances reservations into instances.
func (exp *Expedition) instances() ([]interface{}, error) {
	reservations, err := exp.paginate(exp.cmds.Base("ec2", "describe-instances", "--max-results", "1000"), "Reservations", "", "")
	if err != nil {
		return nil, err
	}
	var out []interface{}
	for _, r := range reservations {
		out = append(out, listAt(r, "Instances")...)
	}
	return out, nil
}

func (exp *Expedition) collectGraviton() (interface{}, error) {
	insts, err := exp.instances()
	if err != nil {
		return nil, err
	}
	candidates := []interface{}{}
	for _, i := range insts {
		itype := stringAt(i, "InstanceType")
		if itype == "" || hasAnyPrefix(itype, gravitonFamilies) {
			continue
		}
		candidates = append(candidates, map[string]interface{}{
			"InstanceId":      stringAt(i, "InstanceId"),
			"InstanceType":    itype,
			"SuggestedFamily": "m7g/c7g/r7g/t4g (validate ARM compatibility)",
		})
	}
	return map[string]interface{}{"region": exp.cmds.Region, "candidates": candidates}, nil
}

func (exp *Expedition) collectAurora() (interface{}, error) {
	clusters, err := exp.paginate(exp.cmds.Base("rds", "describe-db-clusters"), "DBClusters", "", "")
	if err != nil {
		return nil, err
	}
	candidates := []interface{}{}
	for _, c := range clusters {
		engine := stringAt(c, "Engine")
		if !strings.HasPrefix(engine, "aurora") {
			continue
		}
		mode := stringAt(c, "EngineMode")
		if mode != "" && mode != "provisioned" {
			continue
		}
		candidates = append(candidates, pick(c, "DBClusterIdentifier", "Engine", "EngineMode"))
	}
	return map[string]interface{}{
		"region":                 exp.cmds.Region,
		"totalClusters":          len(clusters),
		"serverlessV2Candidates": candidates,
	}, nil
}

func (exp *Expedition) collectEKS() (interface{}, error) {
	clusters, err := exp.paginate(exp.cmds.Base("eks", "list-clusters"), "clusters", "", "")
	if err != nil {
		return nil, err
	}
	details := []interface{}{}
	for _, c := range clusters {
		name, ok := c.(string)
		if !ok || name == "" {
			continue
		}
		ngs, err := exp.paginate(exp.cmds.Base("eks", "list-nodegroups", "--cluster-name", name), "nodegroups", "", "")
		if err != nil {
			return nil, err
		}
		details = append(details, map[string]interface{}{"cluster": name, "nodegroups": ngs})
	}
	return map[string]interface{}{
		"region":   exp.cmds.Region,
		"clusters": details,
		"recommendations": []string{
			"Enable or validate Cluster Autoscaler or Karpenter for burst capacity.",
			"Cover the on-demand node baseline with Compute SP; use diversified spot for burst.",
			"Use gp3 and right-sized node disks; give node logs an explicit retention.",
		},
	}, nil
}

// spotHistoryDays is how far back spot prices are sampled.
const spotHistoryDays = 3

func (exp *Expedition) collectSpotPrices() (interface{}, error) {
	end := exp.now().UTC()
	start := end.AddDate(0, 0, -spotHistoryDays)
	prices, err := exp.paginate(exp.cmds.Base("ec2", "describe-spot-price-history",
		"--instance-types", exp.spotInstanceType,
		"--product-descriptions", "Linux/UNIX",
		"--start-time", start.Format(time.RFC3339),
		"--end-time", end.Format(time.RFC3339),
	), "SpotPriceHistory", "", "")
	if err != nil {
		return nil, err
	}

	type zone struct {
		min     float64
		samples int
	}
	zones := map[string]*zone{}
	for _, p := range prices {
		az := stringAt(p, "AvailabilityZone")
		price := toFloat(lookup(p, "SpotPrice"))
		if az == "" || price <= 0 {
			continue
		}
		z, seen := zones[az]
		if !seen {
			z = &zone{min: price}
			zones[az] = z
		}
		if price < z.min {
			z.min = price
		}
		z.samples++
	}
	names := make([]string, 0, len(zones))
	for az := range zones {
		names = append(names, az)
	}
	sort.Strings(names)
	byZone := make([]interface{}, 0, len(names))
	for _, az := range names {
		byZone = append(byZone, map[string]interface{}{
			"AvailabilityZone": az,
			"minPrice":         zones[az].min,
			"samples":          zones[az].samples,
		})
	}
	exp.log.Debug("sampled spot prices", "instanceType", exp.spotInstanceType, "samples", len(prices), "zones", len(names))
	return map[string]interface{}{
		"region":           exp.cmds.Region,
		"instanceType":     exp.spotInstanceType,
		"startTime":        start.Format(time.RFC3339),
		"endTime":          end.Format(time.RFC3339),
		"SpotPriceHistory": prices,
		"zones":            byZone,
		"recommendation":   "Diversify spot capacity across the cheapest zones and several instance families.",
	}, nil
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
