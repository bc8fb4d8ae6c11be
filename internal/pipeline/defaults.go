package pipeline

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/melbdata/enrich-cli/internal/model"
)

// Policy controls the placeholders written for fields the pipeline could
// not resolve. Text covers name columns, Numeric covers count and minute
// columns (some consumers want "-1" there instead of prose).
type Policy struct {
	Text    string `yaml:"text"`
	Numeric string `yaml:"numeric"`
}

// DefaultPolicy exports every unresolved field as "not available".
func DefaultPolicy() Policy {
	return Policy{Text: model.NotAvailable, Numeric: model.NotAvailable}
}

// LoadPolicy reads a placeholder policy from a YAML file. An empty path
// yields the built-in policy; omitted fields keep their built-in values.
func LoadPolicy(path string) (Policy, error) {
	pol := DefaultPolicy()
	if path == "" {
		return pol, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return pol, eris.Wrapf(err, "pipeline: read defaults policy %s", path)
	}
	if err := yaml.Unmarshal(data, &pol); err != nil {
		return pol, eris.Wrapf(err, "pipeline: parse defaults policy %s", path)
	}
	if pol.Text == "" {
		pol.Text = model.NotAvailable
	}
	if pol.Numeric == "" {
		pol.Numeric = model.NotAvailable
	}
	return pol, nil
}

// Apply swaps the standard placeholders in an export row for the policy's.
func (p Policy) Apply(row model.ExportRow) model.ExportRow {
	if row.Suburb == model.NotAvailable {
		row.Suburb = p.Text
	}
	if row.LGA == model.NotAvailable {
		row.LGA = p.Text
	}
	if row.NearestStation == model.NotAvailable {
		row.NearestStation = p.Text
	}
	if row.TravelTimeMinutes == model.NotAvailable {
		row.TravelTimeMinutes = p.Numeric
	}
	if row.CaseCount == model.NotAvailable {
		row.CaseCount = p.Numeric
	}
	if row.ForecastCaseCount == model.NotAvailable {
		row.ForecastCaseCount = p.Numeric
	}
	return row
}
