/*
Package factory provides JSON to cost-document conversion.

PURPOSE:
  Converts JSON document templates into a built cost tree through the
  mutation gateway. This enables document scaffolding without code changes:
  estimators define a standard trade breakdown in JSON, and the factory
  creates the proper tree with every invariant settled.

WHY JSON?
  - Non-developers can maintain standard breakdowns
  - Easy integration with an admin UI
  - Version control for document templates
  - Database storage of template configs

JSON SCHEMA:
  {
    "kind": "boq",
    "title": "Office Block - Phase 1",
    "groups": [
      {
        "label": "Preliminaries",
        "order": 1,
        "items": [
          {"key": "i1", "label": "Site setup", "order": 1,
           "valuation": {"type": "quantity", "quantity": "10",
                         "supply_rate": "5", "install_rate": "2"}},
          {"label": "Contingency", "order": 2,
           "valuation": {"type": "percentage_of", "ref_key": "i1",
                         "percentage": "10"}}
        ],
        "subgroups": [ ...same shape, items only... ]
      }
    ]
  }

KEY FEATURES:
  - Validates structure before touching the engine
  - Percentage items reference other template items by local key and are
    created in resolution rounds, each once its key has a real node ID
  - A failed build deletes the partial document before returning
  - Returns the root ID plus a key -> NodeID map for follow-up edits

USAGE:
  f := factory.NewTemplateFactory()
  tpl, err := f.Parse(jsonString)
  built, err := f.Build(ctx, engine, docs, tpl)

SEE ALSO:
  - boq/presets.go: Pre-built templates for common BOQ breakdowns
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/warp/cost-engine/costtree"
)

// =============================================================================
// TEMPLATE TYPES
// =============================================================================

type Template struct {
	Kind   string          `json:"kind"`
	Title  string          `json:"title"`
	Groups []GroupTemplate `json:"groups"`
}

type GroupTemplate struct {
	Label     string             `json:"label"`
	Order     int                `json:"order"`
	Items     []ItemTemplate     `json:"items,omitempty"`
	Subgroups []SubgroupTemplate `json:"subgroups,omitempty"`
}

type SubgroupTemplate struct {
	Label string         `json:"label"`
	Order int            `json:"order"`
	Items []ItemTemplate `json:"items,omitempty"`
}

type ItemTemplate struct {
	Key       string            `json:"key,omitempty"` // local handle for ref_key
	Label     string            `json:"label"`
	Order     int               `json:"order"`
	Valuation ValuationTemplate `json:"valuation"`
}

type ValuationTemplate struct {
	Type string `json:"type"` // quantity, fixed_sum, percentage_of, header

	// quantity
	Quantity    string `json:"quantity,omitempty"`
	SupplyRate  string `json:"supply_rate,omitempty"`
	InstallRate string `json:"install_rate,omitempty"`

	// fixed_sum
	Amount string `json:"amount,omitempty"`

	// percentage_of
	RefKey     string `json:"ref_key,omitempty"`
	Percentage string `json:"percentage,omitempty"`
}

// BuildResult reports what a template build created.
type BuildResult struct {
	RootID  costtree.NodeID
	ByKey   map[string]costtree.NodeID
	Version int64 // version of the last applied mutation
}

// =============================================================================
// FACTORY
// =============================================================================

type TemplateFactory struct{}

func NewTemplateFactory() *TemplateFactory {
	return &TemplateFactory{}
}

// Parse decodes and validates a template. It does not touch the engine.
func (f *TemplateFactory) Parse(jsonStr string) (*Template, error) {
	var tpl Template
	if err := json.Unmarshal([]byte(jsonStr), &tpl); err != nil {
		return nil, fmt.Errorf("invalid template JSON: %w", err)
	}
	if err := f.validate(&tpl); err != nil {
		return nil, err
	}
	return &tpl, nil
}

func (f *TemplateFactory) validate(tpl *Template) error {
	if tpl.Title == "" {
		return fmt.Errorf("template requires a title")
	}
	if costtree.LookupKind(tpl.Kind) == nil {
		return fmt.Errorf("unknown document kind %q", tpl.Kind)
	}

	keys := map[string]bool{}
	var collect func(items []ItemTemplate) error
	collect = func(items []ItemTemplate) error {
		for _, it := range items {
			if it.Key != "" {
				if keys[it.Key] {
					return fmt.Errorf("duplicate item key %q", it.Key)
				}
				keys[it.Key] = true
			}
		}
		return nil
	}
	for _, g := range tpl.Groups {
		if err := collect(g.Items); err != nil {
			return err
		}
		for _, sg := range g.Subgroups {
			if err := collect(sg.Items); err != nil {
				return err
			}
		}
	}

	check := func(items []ItemTemplate) error {
		for _, it := range items {
			switch it.Valuation.Type {
			case "quantity", "fixed_sum", "header":
			case "percentage_of":
				if it.Valuation.RefKey == "" {
					return fmt.Errorf("percentage item %q requires ref_key", it.Label)
				}
				if !keys[it.Valuation.RefKey] {
					return fmt.Errorf("percentage item %q references unknown key %q", it.Label, it.Valuation.RefKey)
				}
			default:
				return fmt.Errorf("unknown valuation type %q on item %q", it.Valuation.Type, it.Label)
			}
		}
		return nil
	}
	for _, g := range tpl.Groups {
		if err := check(g.Items); err != nil {
			return err
		}
		for _, sg := range g.Subgroups {
			if err := check(sg.Items); err != nil {
				return err
			}
		}
	}
	return nil
}

// Build creates the whole document through the gateway. Non-percentage
// items go in first; percentage items follow in resolution rounds once
// their ref keys map to real node IDs. Cycle detection still runs per edge.
// Each node is its own Apply, so on any failure the partial document is
// deleted before the error is returned.
func (f *TemplateFactory) Build(ctx context.Context, engine *costtree.Engine, docs costtree.DocumentStore, tpl *Template) (*BuildResult, error) {
	root, err := engine.Apply(ctx, costtree.Create{
		Kind:  costtree.KindDocument,
		Label: tpl.Title,
	})
	if err != nil {
		return nil, err
	}

	built := &BuildResult{
		RootID:  root.NodeID,
		ByKey:   map[string]costtree.NodeID{},
		Version: root.Version,
	}

	if err := f.populate(ctx, engine, tpl, built); err != nil {
		// Nothing outside the new document can reference it yet, so the
		// root delete cascades cleanly. Best effort; the build error wins.
		_, _ = engine.Apply(ctx, costtree.Delete{NodeID: built.RootID})
		return nil, err
	}

	if docs != nil {
		err := docs.SaveDocument(ctx, costtree.DocumentRecord{
			NodeID:    built.RootID,
			Kind:      tpl.Kind,
			Title:     tpl.Title,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			_, _ = engine.Apply(ctx, costtree.Delete{NodeID: built.RootID})
			return nil, err
		}
	}
	return built, nil
}

type deferredItem struct {
	parent costtree.NodeID
	item   ItemTemplate
}

func (f *TemplateFactory) populate(ctx context.Context, engine *costtree.Engine, tpl *Template, built *BuildResult) error {
	var percentages []deferredItem

	createItem := func(parent costtree.NodeID, it ItemTemplate) error {
		if it.Valuation.Type == "percentage_of" {
			percentages = append(percentages, deferredItem{parent: parent, item: it})
			return nil
		}
		res, err := engine.Apply(ctx, costtree.Create{
			ParentID:     &parent,
			Kind:         costtree.KindItem,
			Label:        it.Label,
			DisplayOrder: it.Order,
			Valuation:    itemValuation(it.Valuation, ""),
		})
		if err != nil {
			return err
		}
		if it.Key != "" {
			built.ByKey[it.Key] = res.NodeID
		}
		built.Version = res.Version
		return nil
	}

	for _, g := range tpl.Groups {
		rootID := built.RootID
		gres, err := engine.Apply(ctx, costtree.Create{
			ParentID:     &rootID,
			Kind:         costtree.KindGroup,
			Label:        g.Label,
			DisplayOrder: g.Order,
		})
		if err != nil {
			return err
		}
		built.Version = gres.Version

		for _, it := range g.Items {
			if err := createItem(gres.NodeID, it); err != nil {
				return err
			}
		}
		for _, sg := range g.Subgroups {
			groupID := gres.NodeID
			sres, err := engine.Apply(ctx, costtree.Create{
				ParentID:     &groupID,
				Kind:         costtree.KindSubgroup,
				Label:        sg.Label,
				DisplayOrder: sg.Order,
			})
			if err != nil {
				return err
			}
			built.Version = sres.Version
			for _, it := range sg.Items {
				if err := createItem(sres.NodeID, it); err != nil {
					return err
				}
			}
		}
	}

	// Deferred percentage items resolve in rounds: each round creates every
	// item whose reference key already maps to a real node, so chains of
	// percentage items work no matter where they sit in the template. A
	// round with no progress means the survivors only reference each other.
	for len(percentages) > 0 {
		var remaining []deferredItem
		for _, d := range percentages {
			ref, ok := built.ByKey[d.item.Valuation.RefKey]
			if !ok {
				remaining = append(remaining, d)
				continue
			}
			parent := d.parent
			res, err := engine.Apply(ctx, costtree.Create{
				ParentID:     &parent,
				Kind:         costtree.KindItem,
				Label:        d.item.Label,
				DisplayOrder: d.item.Order,
				Valuation:    itemValuation(d.item.Valuation, ref),
			})
			if err != nil {
				return err
			}
			if d.item.Key != "" {
				built.ByKey[d.item.Key] = res.NodeID
			}
			built.Version = res.Version
		}
		if len(remaining) == len(percentages) {
			labels := make([]string, len(remaining))
			for i, d := range remaining {
				labels[i] = fmt.Sprintf("%q", d.item.Label)
			}
			return fmt.Errorf("percentage items %s reference each other in a cycle", strings.Join(labels, ", "))
		}
		percentages = remaining
	}
	return nil
}

func itemValuation(v ValuationTemplate, ref costtree.NodeID) *costtree.ItemValuation {
	switch v.Type {
	case "quantity":
		return costtree.QuantityValuation(v.Quantity, v.SupplyRate, v.InstallRate)
	case "fixed_sum":
		return costtree.FixedSumValuation(v.Amount)
	case "percentage_of":
		return costtree.PercentageOfValuation(ref, v.Percentage)
	case "header":
		return costtree.HeaderValuation()
	}
	return nil
}
