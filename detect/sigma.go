// Package detect evaluates Sigma rules against process execution events
// and records matches alongside the raw activity log.
package detect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bradleyjkemp/sigma-go"
	"github.com/bradleyjkemp/sigma-go/evaluator"
	"github.com/sirupsen/logrus"

	"avmonitor/database"
	"avmonitor/process"
)

// Detector holds the parsed rule set. Rules load once at startup.
type Detector struct {
	log        *logrus.Logger
	db         *database.DB
	evaluators map[string]*evaluator.RuleEvaluator
}

func fieldConfig() sigma.Config {
	return sigma.Config{
		Title: "Activity Monitor Config",
		FieldMappings: map[string]sigma.FieldMapping{
			"CommandLine":     {TargetNames: []string{"CommandLine"}},
			"Image":           {TargetNames: []string{"Image"}},
			"User":            {TargetNames: []string{"Username"}},
			"ProcessId":       {TargetNames: []string{"ProcessId"}},
			"ParentProcessId": {TargetNames: []string{"ParentProcessId"}},
		},
	}
}

// NewDetector loads every .yml/.yaml rule under rulesDir. A missing or
// empty directory disables detection and returns a nil Detector.
func NewDetector(rulesDir string, db *database.DB, log *logrus.Logger) (*Detector, error) {
	if rulesDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(rulesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read rules directory: %w", err)
	}

	d := &Detector{
		log:        log,
		db:         db,
		evaluators: make(map[string]*evaluator.RuleEvaluator),
	}
	cfg := fieldConfig()

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yml" && ext != ".yaml") {
			continue
		}
		path := filepath.Join(rulesDir, entry.Name())

		content, err := os.ReadFile(path)
		if err != nil {
			log.WithError(err).WithField("file", path).Warn("Failed to read rule file")
			continue
		}
		if sigma.InferFileType(content) != sigma.RuleFile {
			log.WithField("file", path).Debug("Not a Sigma rule file")
			continue
		}
		rule, err := sigma.ParseRule(content)
		if err != nil {
			log.WithError(err).WithField("file", path).Warn("Failed to parse rule file")
			continue
		}

		d.evaluators[rule.ID] = evaluator.ForRule(rule, evaluator.WithConfig(cfg))
		log.WithFields(logrus.Fields{"rule": rule.Title, "id": rule.ID}).Info("Loaded detection rule")
	}

	if len(d.evaluators) == 0 {
		return nil, nil
	}
	log.WithField("count", len(d.evaluators)).Info("Detection rules loaded")
	return d, nil
}

// CheckExec evaluates the rule set against an exec event and persists any
// matches. Evaluation errors disable nothing; the offending rule is just
// skipped for this event.
func (d *Detector) CheckExec(ctx context.Context, info *process.Info) {
	event := map[string]interface{}{
		"Image":           info.ExePath,
		"CommandLine":     info.CmdLine,
		"Username":        info.Username,
		"ProcessId":       fmt.Sprintf("%d", info.PID),
		"ParentProcessId": fmt.Sprintf("%d", info.PPID),
	}

	for _, ruleEvaluator := range d.evaluators {
		result, err := ruleEvaluator.Matches(ctx, event)
		if err != nil {
			d.log.WithError(err).WithField("rule", ruleEvaluator.Rule.ID).Debug("Rule evaluation failed")
			continue
		}
		if !result.Match {
			continue
		}

		var conditions []string
		for k, v := range result.SearchResults {
			if v {
				conditions = append(conditions, k)
			}
		}

		d.log.WithFields(logrus.Fields{
			"rule": ruleEvaluator.Rule.Title,
			"pid":  info.PID,
			"exe":  info.ExePath,
		}).Warn("Process matched detection rule")

		err = d.db.InsertRuleMatch(&database.RuleMatchRecord{
			Timestamp: time.Now(),
			PID:       info.PID,
			RuleID:    ruleEvaluator.Rule.ID,
			RuleName:  ruleEvaluator.Rule.Title,
			Details:   fmt.Sprintf("Matched conditions: %s", strings.Join(conditions, ", ")),
		})
		if err != nil {
			d.log.WithError(err).Error("Failed to record rule match")
		}
	}
}
