/*
presets.go - Pre-built BOQ template JSON

PURPOSE:
  Ready-to-use document templates for common bill breakdowns. These are
  convenience builders producing the JSON the factory package consumes,
  so seed scenarios, tests and demo data all go through the same path as
  user-supplied templates.

AVAILABLE PRESETS:
  StandardBillJSON: Preliminaries, measured works and a contingency
                    percentage over the measured section
  EmptyBillJSON:    A titled bill with named empty sections

SEE ALSO:
  - factory/template.go: JSON schema and Build
*/
package boq

import "encoding/json"

// StandardBillJSON returns a template with a preliminaries section, one
// measured-works section and a contingency item tracking the measured
// works at the given percentage.
func StandardBillJSON(title, contingencyPct string) string {
	tpl := map[string]interface{}{
		"kind":  string(KindBillOfQuantities),
		"title": title,
		"groups": []map[string]interface{}{
			{
				"label": "Preliminaries",
				"order": 1,
				"items": []map[string]interface{}{
					{
						"label": "General requirements",
						"order": 1,
						"valuation": map[string]interface{}{
							"type": "header",
						},
					},
					{
						"key":   "prelims-allowance",
						"label": "Site establishment allowance",
						"order": 2,
						"valuation": map[string]interface{}{
							"type":   "fixed_sum",
							"amount": "0",
						},
					},
				},
			},
			{
				"label": "Measured Works",
				"order": 2,
				"items": []map[string]interface{}{
					{
						"key":   "measured-base",
						"label": "Measured works allowance",
						"order": 1,
						"valuation": map[string]interface{}{
							"type":   "fixed_sum",
							"amount": "0",
						},
					},
				},
			},
			{
				"label": "Summary",
				"order": 3,
				"items": []map[string]interface{}{
					{
						"label": "Contingency",
						"order": 1,
						"valuation": map[string]interface{}{
							"type":       "percentage_of",
							"ref_key":    "measured-base",
							"percentage": contingencyPct,
						},
					},
				},
			},
		},
	}
	b, _ := json.MarshalIndent(tpl, "", "  ")
	return string(b)
}

// EmptyBillJSON returns a bill with the named sections and no items.
func EmptyBillJSON(title string, sections ...string) string {
	groups := make([]map[string]interface{}, 0, len(sections))
	for i, label := range sections {
		groups = append(groups, map[string]interface{}{
			"label": label,
			"order": i + 1,
		})
	}
	tpl := map[string]interface{}{
		"kind":   string(KindBillOfQuantities),
		"title":  title,
		"groups": groups,
	}
	b, _ := json.MarshalIndent(tpl, "", "  ")
	return string(b)
}
