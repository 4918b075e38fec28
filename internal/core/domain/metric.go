package domain

import (
	"encoding/json"
	"fmt"
)

// Metric is the tweet statistic a market resolves against.
type Metric uint8

const (
	MetricViews Metric = iota
	MetricLikes
	MetricRetweets
	MetricComments
)

var metricNames = map[Metric]string{
	MetricViews:    "VIEWS",
	MetricLikes:    "LIKES",
	MetricRetweets: "RETWEETS",
	MetricComments: "COMMENTS",
}

// Valid reports whether m is one of the contract's enum values.
func (m Metric) Valid() bool {
	_, ok := metricNames[m]
	return ok
}

func (m Metric) String() string {
	if name, ok := metricNames[m]; ok {
		return name
	}
	return fmt.Sprintf("METRIC(%d)", uint8(m))
}

// MarshalJSON emits both the raw enum value and its name.
func (m Metric) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Value uint8  `json:"value"`
		Name  string `json:"name"`
	}{uint8(m), m.String()})
}

// UnmarshalJSON accepts the object form written by MarshalJSON or a bare
// number.
func (m *Metric) UnmarshalJSON(data []byte) error {
	var obj struct {
		Value *uint8 `json:"value"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.Value != nil {
		*m = Metric(*obj.Value)
		return nil
	}
	var v uint8
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid metric %s: %w", data, err)
	}
	*m = Metric(v)
	return nil
}
