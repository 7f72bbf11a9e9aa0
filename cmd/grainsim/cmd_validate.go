package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pthm-cable/grainsim/model"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// errInvalidModel is returned by validate when any issue is an error.
var errInvalidModel = errors.New("model has errors")

type validateResult struct {
	Model  string       `json:"model"`
	Valid  bool         `json:"valid"`
	Issues model.Issues `json:"issues"`
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <model.yaml|scenario.yaml>",
		Short: "Check a model for authoring errors",
		Long: `Check a model for authoring errors.

This command reports:
  - Structural problems (missing ids, out-of-range probabilities)
  - Duplicate grain or field ids
  - References to undefined grains or fields
  - Predicates that can never hold and formulas that do not parse

Warnings do not fail validation. A scenario file is checked through its model.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			m, err := readUncompiledModel(args[0])
			if err != nil {
				return err
			}
			issues := model.Validate(m)
			res := validateResult{Model: m.Name, Valid: !issues.HasErrors(), Issues: issues}
			if res.Issues == nil {
				res.Issues = model.Issues{}
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else {
				for _, i := range issues {
					fmt.Fprintln(out, i.String())
				}
				if res.Valid {
					fmt.Fprintf(out, "%s: ok (%d warnings)\n", m.Name, len(issues.Warnings()))
				}
			}
			if !res.Valid {
				return fmt.Errorf("%s: %w", m.Name, errInvalidModel)
			}
			return nil
		},
	}

	cmd.Flags().Bool("json", false, "Output as JSON")

	return cmd
}

// readUncompiledModel decodes a model without compiling it, so duplicate ids
// reach Validate instead of failing the load. Scenario files are followed to
// their model.
func readUncompiledModel(path string) (*model.Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var probe struct {
		Model     *model.Model `yaml:"model"`
		ModelPath string       `yaml:"model_path"`
		Grains    []yaml.Node  `yaml:"grains"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	switch {
	case probe.Grains != nil:
	case probe.Model != nil:
		return probe.Model, nil
	case probe.ModelPath != "":
		mp := probe.ModelPath
		if !filepath.IsAbs(mp) {
			mp = filepath.Join(filepath.Dir(path), mp)
		}
		return readUncompiledModel(mp)
	}

	m := &model.Model{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return m, nil
}
