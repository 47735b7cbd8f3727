package policy

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Member is one key of an Ordered object
type Member struct {
	Key   string
	Value any
}

// Ordered is a JSON/YAML object that keeps insertion order
type Ordered []Member

// Get returns the value stored under key
func (o Ordered) Get(key string) (any, bool) {
	for _, m := range o {
		if m.Key == key {
			return m.Value, true
		}
	}
	return nil, false
}

func (o Ordered) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(m.Key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(m.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal %q: %w", m.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (o Ordered) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, m := range o {
		var value yaml.Node
		if err := value.Encode(yamlValue(m.Value)); err != nil {
			return nil, fmt.Errorf("encode %q: %w", m.Key, err)
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: m.Key},
			&value,
		)
	}
	return node, nil
}

// yamlValue converts json.Number (from decoded wire documents) to plain
// numbers so YAML does not quote them
func yamlValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = yamlValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = yamlValue(val)
		}
		return out
	default:
		return v
	}
}

const resourceName = "AutomatedReasoningPolicy"

// Template builds a CloudFormation template that recreates the exported
// policy under name
func Template(exp *Export, name string, includeTags bool) Ordered {
	properties := Ordered{{Key: "Name", Value: name}}

	if def := exp.Definition(); def != nil {
		properties = append(properties, Member{Key: "PolicyDefinition", Value: def})
	}
	if exp.Description != "" {
		properties = append(properties, Member{Key: "Description", Value: exp.Description})
	}
	if includeTags && len(exp.Tags) > 0 {
		tags := make([]Ordered, 0, len(exp.Tags))
		for _, t := range exp.Tags {
			tags = append(tags, Ordered{{Key: "Key", Value: t.Key}, {Key: "Value", Value: t.Value}})
		}
		properties = append(properties, Member{Key: "Tags", Value: tags})
	}

	getAtt := func(attr string) Ordered {
		return Ordered{{Key: "Fn::GetAtt", Value: []string{resourceName, attr}}}
	}

	return Ordered{
		{Key: "AWSTemplateFormatVersion", Value: "2010-09-09"},
		{Key: "Description", Value: "CloudFormation template for Automated Reasoning Policy: " + name},
		{Key: "Resources", Value: Ordered{
			{Key: resourceName, Value: Ordered{
				{Key: "Type", Value: "AWS::Bedrock::AutomatedReasoningPolicy"},
				{Key: "Properties", Value: properties},
			}},
		}},
		{Key: "Outputs", Value: Ordered{
			{Key: "PolicyId", Value: Ordered{
				{Key: "Description", Value: "The ID of the created Automated Reasoning Policy"},
				{Key: "Value", Value: getAtt("PolicyId")},
			}},
			{Key: "PolicyArn", Value: Ordered{
				{Key: "Description", Value: "The ARN of the created Automated Reasoning Policy"},
				{Key: "Value", Value: getAtt("PolicyArn")},
			}},
		}},
	}
}

// DefaultName is the template name used when none is given
func DefaultName(exp *Export) string {
	if exp.Name != "" {
		return exp.Name
	}
	return "AutomatedReasoningPolicy" + exp.PolicyID
}
