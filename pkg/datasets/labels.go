// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Label is one entry of a dataset label configuration.
type Label struct {
	ID         int    `json:"id"`
	Name       string `json:"name,omitempty"`
	Category   string `json:"category,omitempty"`
	Color      []int  `json:"color,omitempty"`
	IsEvaluate bool   `json:"is_evaluate"`
}

// LabelConfig is the JSON configuration written by the preprocessing step of a dataset role.
type LabelConfig struct {
	Labels []Label `json:"labels"`
}

// ReadLabelConfig reads a label configuration file.
func ReadLabelConfig(path string) (*LabelConfig, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read label configuration")
	}
	config := &LabelConfig{}
	if err = json.Unmarshal(contents, config); err != nil {
		return nil, errors.Wrapf(err, "failed to parse label configuration %q", path)
	}
	return config, nil
}

// EvaluatedIDs returns the ids of the evaluated labels, in configuration order.
// Only these count toward the model output dimension.
func (c *LabelConfig) EvaluatedIDs() []int {
	ids := make([]int, 0, len(c.Labels))
	for _, label := range c.Labels {
		if label.IsEvaluate {
			ids = append(ids, label.ID)
		}
	}
	return ids
}

// NumLabels returns the number of evaluated labels.
func (c *LabelConfig) NumLabels() int {
	return len(c.EvaluatedIDs())
}
