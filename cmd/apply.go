package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/marcus/syncbridge/internal/models"
	"github.com/marcus/syncbridge/internal/output"
)

// applyDoc is the declarative configuration file format.
// Synchronizations and subscriptions are decoded untyped and hydrated
// through the validating constructors, so bad or unknown fields fail
// the apply with every problem listed.
type applyDoc struct {
	Synchronizations []map[string]any `yaml:"synchronizations"`
	Mappings         []models.Mapping `yaml:"mappings"`
	Subscriptions    []map[string]any `yaml:"subscriptions"`
	Rules            []ruleDoc        `yaml:"rules"`
}

type ruleDoc struct {
	Synchronization string         `yaml:"synchronization"`
	Name            string         `yaml:"name"`
	Timing          string         `yaml:"timing"`
	Action          string         `yaml:"action"`
	Conditions      map[string]any `yaml:"conditions"`
	Config          map[string]any `yaml:"config"`
	Enabled         *bool          `yaml:"enabled"`
}

var applyCmd = &cobra.Command{
	Use:   "apply <file.yaml>",
	Short: "Apply declarative configuration",
	Long: `Reads a YAML file of synchronizations, mappings, rules and event
subscriptions, and upserts them into the database. Rules are replaced
per synchronization; everything else is upserted by its identifier.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}

		var doc applyDoc
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", args[0], err)
		}

		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		for i := range doc.Mappings {
			m := &doc.Mappings[i]
			if m.Name == "" {
				return fmt.Errorf("mapping %d: missing name", i)
			}
			if err := database.UpsertMapping(m); err != nil {
				return fmt.Errorf("mapping %s: %w", m.Name, err)
			}
			output.Success("mapping %s", m.Name)
		}

		for i, raw := range doc.Synchronizations {
			s, err := models.SynchronizationFromMap(raw)
			if err != nil {
				return fmt.Errorf("synchronization %d: %w", i, err)
			}
			if err := database.UpsertSynchronization(s); err != nil {
				return fmt.Errorf("synchronization %s: %w", s.ID, err)
			}
			output.Success("synchronization %s", s.ID)
		}

		for i, raw := range doc.Subscriptions {
			sub, err := models.SubscriptionFromMap(raw)
			if err != nil {
				return fmt.Errorf("subscription %d: %w", i, err)
			}
			if err := database.UpsertSubscription(sub); err != nil {
				return fmt.Errorf("subscription %s: %w", sub.Reference, err)
			}
			output.Success("subscription %s (%s)", sub.Reference, sub.Style)
		}

		bySync := make(map[string][]models.Rule)
		for i, rd := range doc.Rules {
			rule, err := ruleFromDoc(rd)
			if err != nil {
				return fmt.Errorf("rule %d (%s): %w", i, rd.Name, err)
			}
			bySync[rd.Synchronization] = append(bySync[rd.Synchronization], *rule)
		}
		for syncID, rules := range bySync {
			if _, err := database.GetSynchronization(syncID); err != nil {
				return fmt.Errorf("rules reference unknown synchronization %s", syncID)
			}
			if err := database.ReplaceRules(syncID, rules); err != nil {
				return fmt.Errorf("rules for %s: %w", syncID, err)
			}
			output.Success("%d rule(s) for %s", len(rules), syncID)
		}

		return nil
	},
}

// ruleFromDoc converts the YAML rule form. The config map is routed
// through the JSON tagged-union decoder so unknown types are rejected
// here, at apply time, instead of at run time.
func ruleFromDoc(rd ruleDoc) (*models.Rule, error) {
	if rd.Name == "" {
		return nil, fmt.Errorf("missing name")
	}
	if rd.Synchronization == "" {
		return nil, fmt.Errorf("missing synchronization")
	}
	timing := models.RuleTiming(rd.Timing)
	if timing != models.TimingBefore && timing != models.TimingAfter {
		return nil, fmt.Errorf("unknown timing %q", rd.Timing)
	}
	action := models.Action(rd.Action)
	if !action.Valid() {
		return nil, fmt.Errorf("unknown action %q", rd.Action)
	}

	configJSON, err := json.Marshal(rd.Config)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	var config models.RuleConfig
	if err := json.Unmarshal(configJSON, &config); err != nil {
		return nil, err
	}

	var conditions json.RawMessage
	if len(rd.Conditions) > 0 {
		conditions, err = json.Marshal(rd.Conditions)
		if err != nil {
			return nil, fmt.Errorf("encode conditions: %w", err)
		}
	}

	enabled := true
	if rd.Enabled != nil {
		enabled = *rd.Enabled
	}
	return &models.Rule{
		SynchronizationID: rd.Synchronization,
		Name:              rd.Name,
		Timing:            timing,
		Action:            action,
		Conditions:        conditions,
		Config:            config,
		Enabled:           enabled,
	}, nil
}

func init() {
	rootCmd.AddCommand(applyCmd)
}
