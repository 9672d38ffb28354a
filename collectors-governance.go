package costcollector

import (
	"errors"
	"sort"
	"time"
)

// snapshotTimeLayouts are the StartTime formats accepted. Timestamps
// without a zone are taken as UTC.
var snapshotTimeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05"}

// optional runs cmd and treats a non-zero exit as "not configured",
// which is how s3api reports a bucket without tags or lifecycle rules.
// Malformed output, or a tool that never started, is still an error.
func (exp *Expedition) optional(cmd Command) (doc Document, found bool, err error) {
	doc, err = exp.querier.Invoke(cmd)
	var ee *ExecutionError
	if errors.As(err, &ee) && ee.ExitStatus >= 0 {
		exp.log.Debug("optional lookup returned nothing", "cmd", cmd.String(), "status", ee.ExitStatus)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func bucketNamesIn(doc Document) (names []string) {
	for _, b := range listAt(doc, "Buckets") {
		if name := stringAt(b, "Name"); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// bucketNames lists bucket names. A listing that fails yields none
// unless strict is set.
func (exp *Expedition) bucketNames(strict bool) (names []string, err error) {
	cmd := exp.cmds.Global("s3api", "list-buckets")
	if strict {
		doc, err := exp.querier.Invoke(cmd)
		if err != nil {
			return nil, err
		}
		return bucketNamesIn(doc), nil
	}
	doc, found, err := exp.optional(cmd)
	if err != nil || !found {
		return names, err
	}
	return bucketNamesIn(doc), nil
}

func (exp *Expedition) collectLogsRetention() (interface{}, error) {
	groups, err := exp.paginate(exp.cmds.Base("logs", "describe-log-groups"), "logGroups", "", "")
	if err != nil {
		return nil, err
	}
	candidates := []interface{}{}
	for _, g := range groups {
		if truthy(lookup(g, "retentionInDays")) {
			continue
		}
		stored := lookup(g, "storedBytes")
		if stored == nil {
			stored = 0
		}
		candidates = append(candidates, map[string]interface{}{
			"logGroupName": stringAt(g, "logGroupName"),
			"storedBytes":  stored,
		})
	}
	return map[string]interface{}{
		"region":           exp.cmds.Region,
		"totalLogGroups":   len(groups),
		"withoutRetention": len(candidates),
		"candidates":       candidates,
		"recommendation": map[string]interface{}{
			"defaultRetentionDays": 30,
			"notes":                "Apply at least 30-90 days depending on criticality; export history to S3 with a lifecycle.",
		},
	}, nil
}

func (exp *Expedition) collectS3Lifecycle() (interface{}, error) {
	names, err := exp.bucketNames(true)
	if err != nil {
		return nil, err
	}
	missing := []string{}
	for _, name := range names {
		_, found, err := exp.optional(exp.cmds.Global("s3api", "get-bucket-lifecycle-configuration", "--bucket", name))
		if err != nil {
			return nil, err
		}
		if !found {
			missing = append(missing, name)
		}
	}
	return map[string]interface{}{
		"region":           exp.cmds.Region,
		"totalBuckets":     len(names),
		"withoutLifecycle": len(missing),
		"buckets":          missing,
		"recommendation": map[string]interface{}{
			"policy": "Transition to S3 Standard-IA at 30d and Glacier at 90/180d; expire temporary data.",
		},
	}, nil
}

// snapshotStart parses a snapshot's StartTime. ok is false when the
// field is missing or malformed.
func snapshotStart(snap interface{}) (started time.Time, ok bool) {
	raw := stringAt(snap, "StartTime")
	if raw == "" {
		return started, false
	}
	for _, layout := range snapshotTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return started, false
}

func (exp *Expedition) collectSnapshots() (interface{}, error) {
	cutoff := exp.now().UTC().Add(-time.Duration(exp.snapshotDays) * 24 * time.Hour)
	snaps, err := exp.paginate(
		exp.cmds.Base("ec2", "describe-snapshots", "--owner-ids", "self", "--max-results", "1000"),
		"Snapshots", "", "",
	)
	if err != nil {
		return nil, err
	}
	old := []interface{}{}
	for _, s := range snaps {
		started, ok := snapshotStart(s)
		if !ok {
			exp.log.Debug("skipping snapshot without a usable StartTime", "snapshot", stringAt(s, "SnapshotId"))
			continue
		}
		if started.Before(cutoff) {
			old = append(old, pick(s, "SnapshotId", "StartTime", "VolumeId", "VolumeSize", "StorageTier"))
		}
	}
	exp.log.Info("filtered snapshots by age", "pre-filter", len(snaps), "post-filter", len(old))
	return map[string]interface{}{
		"region":             exp.cmds.Region,
		"thresholdDays":      exp.snapshotDays,
		"totalSnapshots":     len(snaps),
		"olderThanThreshold": len(old),
		"candidates":         firstN(old, MaxSample),
	}, nil
}

// missingTags returns the required keys absent from tags, sorted.
func missingTags(required []string, tags []interface{}) []string {
	var present []string
	for _, t := range tags {
		present = append(present, stringAt(t, "Key"))
	}
	missing := []string{}
	for _, key := range dedupeString(required) {
		if !containsString(present, key) {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	return missing
}

func (exp *Expedition) collectTagCompliance() (interface{}, error) {
	var items []map[string]interface{}
	add := func(id, kind string, tags []interface{}) {
		items = append(items, map[string]interface{}{
			"id":      id,
			"type":    kind,
			"missing": missingTags(exp.requiredTags, tags),
		})
	}

	insts, err := exp.instances()
	if err != nil {
		return nil, err
	}
	for _, i := range insts {
		add(stringAt(i, "InstanceId"), "ec2", listAt(i, "Tags"))
	}

	vols, err := exp.paginate(exp.cmds.Base("ec2", "describe-volumes", "--max-results", "500"), "Volumes", "", "")
	if err != nil {
		return nil, err
	}
	for _, v := range vols {
		add(stringAt(v, "VolumeId"), "ebs", listAt(v, "Tags"))
	}

	buckets, err := exp.bucketNames(false)
	if err != nil {
		return nil, err
	}
	for _, name := range buckets {
		doc, _, err := exp.optional(exp.cmds.Global("s3api", "get-bucket-tagging", "--bucket", name))
		if err != nil {
			return nil, err
		}
		add(name, "s3", listAt(doc, "TagSet"))
	}

	nonCompliant := []interface{}{}
	for _, item := range items {
		if len(item["missing"].([]string)) > 0 {
			nonCompliant = append(nonCompliant, item)
		}
	}
	return map[string]interface{}{
		"region":       exp.cmds.Region,
		"requiredTags": exp.requiredTags,
		"checked":      len(items),
		"nonCompliant": len(nonCompliant),
		"items":        firstN(nonCompliant, MaxSample),
	}, nil
}
