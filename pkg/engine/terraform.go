package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"

	"github.com/howtoharden/hth/pkg/pack"
	"github.com/howtoharden/hth/pkg/vendors"
)

// GenerateTerraform renders the Terraform remediation of controls as one
// HCL file: required_providers, variables, the provider block, then the
// resources of each control under a comment naming it.
func GenerateTerraform(controls []pack.Control, tp vendors.TerraformProvider) ([]byte, error) {
	f := hclwrite.NewEmptyFile()
	root := f.Body()

	if tp.Source != "" {
		tf := root.AppendNewBlock("terraform", nil)
		rp := tf.Body().AppendNewBlock("required_providers", nil)
		req := map[string]cty.Value{"source": cty.StringVal(tp.Source)}
		if tp.Version != "" {
			req["version"] = cty.StringVal(tp.Version)
		}
		rp.Body().SetAttributeValue(tp.Name, cty.ObjectVal(req))
		root.AppendNewline()
	}

	attrs := sortedKeys(tp.Variables)
	for _, attr := range attrs {
		v := root.AppendNewBlock("variable", []string{tp.Variables[attr]})
		v.Body().SetAttributeTraversal("type", hcl.Traversal{hcl.TraverseRoot{Name: "string"}})
		if sensitive(attr) {
			v.Body().SetAttributeValue("sensitive", cty.True)
		}
		root.AppendNewline()
	}

	provider := root.AppendNewBlock("provider", []string{tp.Name})
	for _, attr := range attrs {
		provider.Body().SetAttributeTraversal(attr, hcl.Traversal{
			hcl.TraverseRoot{Name: "var"},
			hcl.TraverseAttr{Name: tp.Variables[attr]},
		})
	}

	for _, c := range controls {
		if c.Remediate == nil || c.Remediate.Terraform == nil {
			continue
		}
		root.AppendNewline()
		root.AppendUnstructuredTokens(hclwrite.Tokens{{
			Type:  hclsyntax.TokenComment,
			Bytes: []byte(fmt.Sprintf("# %s - %s\n", c.ID, c.Title)),
		}})
		for i, r := range c.Remediate.Terraform.Resources {
			if r.Config == nil {
				return nil, fmt.Errorf("resource config for %s.%s must be an object", r.Type, r.Name)
			}
			if i > 0 {
				root.AppendNewline()
			}
			block := root.AppendNewBlock("resource", []string{r.Type, r.Name})
			if err := writeBody(block.Body(), r.Config); err != nil {
				return nil, fmt.Errorf("resource %s.%s: %w", r.Type, r.Name, err)
			}
		}
	}
	return hclwrite.Format(f.Bytes()), nil
}

// writeBody writes objects as nested blocks and everything else as attributes.
func writeBody(body *hclwrite.Body, config map[string]any) error {
	for _, key := range sortedKeys(config) {
		if nested, ok := config[key].(map[string]any); ok {
			if err := writeBody(body.AppendNewBlock(key, nil).Body(), nested); err != nil {
				return err
			}
			continue
		}
		val, err := toCty(config[key])
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		body.SetAttributeValue(key, val)
	}
	return nil
}

func toCty(v any) (cty.Value, error) {
	switch val := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case string:
		return cty.StringVal(val), nil
	case bool:
		return cty.BoolVal(val), nil
	case int:
		return cty.NumberIntVal(int64(val)), nil
	case int64:
		return cty.NumberIntVal(val), nil
	case uint64:
		return cty.NumberUIntVal(val), nil
	case float64:
		return cty.NumberFloatVal(val), nil
	case []any:
		if len(val) == 0 {
			return cty.EmptyTupleVal, nil
		}
		items := make([]cty.Value, 0, len(val))
		for _, item := range val {
			c, err := toCty(item)
			if err != nil {
				return cty.NilVal, err
			}
			items = append(items, c)
		}
		return cty.TupleVal(items), nil
	case map[string]any:
		if len(val) == 0 {
			return cty.EmptyObjectVal, nil
		}
		fields := make(map[string]cty.Value, len(val))
		for k, item := range val {
			c, err := toCty(item)
			if err != nil {
				return cty.NilVal, err
			}
			fields[k] = c
		}
		return cty.ObjectVal(fields), nil
	}
	return cty.NilVal, fmt.Errorf("unsupported value type %T", v)
}

func sensitive(attr string) bool {
	for _, s := range []string{"token", "key", "secret", "password"} {
		if strings.Contains(attr, s) {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
