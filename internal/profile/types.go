// Package profile holds precomputed statistical summaries of AACT columns.
// The artifact is produced offline by the profiler job; at runtime it is
// read-only context that substitutes for live querying.
package profile

import (
	"encoding/json"
	"fmt"
)

// Kind tags the profile variant persisted in the artifact.
type Kind string

const (
	KindEnum      Kind = "enum"
	KindSample    Kind = "sample"
	KindNumeric   Kind = "numeric"
	KindDateRange Kind = "date_range"
	KindBoolean   Kind = "boolean"
	KindError     Kind = "error"
)

// Profile is a tagged union over the profile kinds. Exactly one variant
// pointer is set for the recognized kinds; all may be nil for a kind written
// by a newer profiler than this binary understands.
type Profile struct {
	Table  string
	Column string
	Kind   Kind

	Enum      *EnumStats
	Sample    *SampleStats
	Numeric   *NumericStats
	DateRange *DateRangeStats
	Boolean   *BooleanStats
	Err       *ErrorInfo
}

// Key returns the "table.column" identity used in the artifact.
func (p Profile) Key() string {
	return p.Table + "." + p.Column
}

// EnumStats is a full value histogram for a low-cardinality column. The
// profiler collapses candidates above its cap into SampleStats instead.
type EnumStats struct {
	NDistinct int              `json:"n_distinct"`
	NNull     int64            `json:"n_null"`
	Values    map[string]int64 `json:"values"`
}

// SampleStats describes a high-cardinality column by example.
type SampleStats struct {
	NDistinct    int      `json:"n_distinct"`
	NNull        int64    `json:"n_null"`
	SampleValues []string `json:"sample_values"`
}

// NumericStats summarizes a numeric column. Fields are pointers because an
// all-null column has no min/max/median/mean.
type NumericStats struct {
	Min      *float64 `json:"min"`
	Max      *float64 `json:"max"`
	Median   *float64 `json:"median"`
	Mean     *float64 `json:"mean"`
	NNull    int64    `json:"n_null"`
	NNonNull int64    `json:"n_non_null"`
}

// DateRangeStats summarizes a date column with string-formatted bounds.
type DateRangeStats struct {
	Min      *string `json:"min"`
	Max      *string `json:"max"`
	NNull    int64   `json:"n_null"`
	NNonNull int64   `json:"n_non_null"`
}

// BooleanStats counts the three possible states of a boolean column.
type BooleanStats struct {
	NTrue  int64 `json:"n_true"`
	NFalse int64 `json:"n_false"`
	NNull  int64 `json:"n_null"`
}

// ErrorInfo records a column the profiler failed on. It must render
// distinctly so a consumer cannot mistake it for real statistics.
type ErrorInfo struct {
	Message string `json:"error"`
}

// flatProfile is the flat on-disk shape shared by every kind.
type flatProfile struct {
	Table       string           `json:"table"`
	Column      string           `json:"column"`
	ProfileType Kind             `json:"profile_type"`
	NDistinct   *int             `json:"n_distinct,omitempty"`
	NNull       *int64           `json:"n_null,omitempty"`
	NNonNull    *int64           `json:"n_non_null,omitempty"`
	Values      map[string]int64 `json:"values,omitempty"`
	Samples     []string         `json:"sample_values,omitempty"`
	Min         *json.RawMessage `json:"min,omitempty"`
	Max         *json.RawMessage `json:"max,omitempty"`
	Median      *float64         `json:"median,omitempty"`
	Mean        *float64         `json:"mean,omitempty"`
	NTrue       *int64           `json:"n_true,omitempty"`
	NFalse      *int64           `json:"n_false,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// UnmarshalJSON decodes the flat artifact shape into the tagged union.
// Unrecognized kinds keep their tag with no variant set; the formatter
// renders those with a generic fallback line instead of failing.
func (p *Profile) UnmarshalJSON(data []byte) error {
	var f flatProfile
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	p.Table = f.Table
	p.Column = f.Column
	p.Kind = f.ProfileType

	switch f.ProfileType {
	case KindEnum:
		p.Enum = &EnumStats{Values: f.Values}
		if f.NDistinct != nil {
			p.Enum.NDistinct = *f.NDistinct
		}
		if f.NNull != nil {
			p.Enum.NNull = *f.NNull
		}
	case KindSample:
		p.Sample = &SampleStats{SampleValues: f.Samples}
		if f.NDistinct != nil {
			p.Sample.NDistinct = *f.NDistinct
		}
		if f.NNull != nil {
			p.Sample.NNull = *f.NNull
		}
	case KindNumeric:
		n := &NumericStats{Median: f.Median, Mean: f.Mean}
		if f.NNull != nil {
			n.NNull = *f.NNull
		}
		if f.NNonNull != nil {
			n.NNonNull = *f.NNonNull
		}
		var err error
		if n.Min, err = rawFloat(f.Min); err != nil {
			return fmt.Errorf("profile %s.%s: min: %w", f.Table, f.Column, err)
		}
		if n.Max, err = rawFloat(f.Max); err != nil {
			return fmt.Errorf("profile %s.%s: max: %w", f.Table, f.Column, err)
		}
		p.Numeric = n
	case KindDateRange:
		d := &DateRangeStats{}
		if f.NNull != nil {
			d.NNull = *f.NNull
		}
		if f.NNonNull != nil {
			d.NNonNull = *f.NNonNull
		}
		var err error
		if d.Min, err = rawString(f.Min); err != nil {
			return fmt.Errorf("profile %s.%s: min: %w", f.Table, f.Column, err)
		}
		if d.Max, err = rawString(f.Max); err != nil {
			return fmt.Errorf("profile %s.%s: max: %w", f.Table, f.Column, err)
		}
		p.DateRange = d
	case KindBoolean:
		b := &BooleanStats{}
		if f.NTrue != nil {
			b.NTrue = *f.NTrue
		}
		if f.NFalse != nil {
			b.NFalse = *f.NFalse
		}
		if f.NNull != nil {
			b.NNull = *f.NNull
		}
		p.Boolean = b
	case KindError:
		p.Err = &ErrorInfo{Message: f.Error}
	}
	return nil
}

// MarshalJSON writes the flat artifact shape the profiler job produces.
func (p Profile) MarshalJSON() ([]byte, error) {
	f := flatProfile{Table: p.Table, Column: p.Column, ProfileType: p.Kind}
	switch {
	case p.Enum != nil:
		f.NDistinct = &p.Enum.NDistinct
		f.NNull = &p.Enum.NNull
		f.Values = p.Enum.Values
	case p.Sample != nil:
		f.NDistinct = &p.Sample.NDistinct
		f.NNull = &p.Sample.NNull
		f.Samples = p.Sample.SampleValues
	case p.Numeric != nil:
		f.NNull = &p.Numeric.NNull
		f.NNonNull = &p.Numeric.NNonNull
		f.Median = p.Numeric.Median
		f.Mean = p.Numeric.Mean
		var err error
		if f.Min, err = floatRaw(p.Numeric.Min); err != nil {
			return nil, err
		}
		if f.Max, err = floatRaw(p.Numeric.Max); err != nil {
			return nil, err
		}
	case p.DateRange != nil:
		f.NNull = &p.DateRange.NNull
		f.NNonNull = &p.DateRange.NNonNull
		var err error
		if f.Min, err = stringRaw(p.DateRange.Min); err != nil {
			return nil, err
		}
		if f.Max, err = stringRaw(p.DateRange.Max); err != nil {
			return nil, err
		}
	case p.Boolean != nil:
		f.NTrue = &p.Boolean.NTrue
		f.NFalse = &p.Boolean.NFalse
		f.NNull = &p.Boolean.NNull
	case p.Err != nil:
		f.Error = p.Err.Message
	}
	return json.Marshal(f)
}

func rawFloat(r *json.RawMessage) (*float64, error) {
	if r == nil || string(*r) == "null" {
		return nil, nil
	}
	var v float64
	if err := json.Unmarshal(*r, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func rawString(r *json.RawMessage) (*string, error) {
	if r == nil || string(*r) == "null" {
		return nil, nil
	}
	var v string
	if err := json.Unmarshal(*r, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func floatRaw(v *float64) (*json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(*v)
	if err != nil {
		return nil, err
	}
	raw := json.RawMessage(b)
	return &raw, nil
}

func stringRaw(v *string) (*json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(*v)
	if err != nil {
		return nil, err
	}
	raw := json.RawMessage(b)
	return &raw, nil
}
