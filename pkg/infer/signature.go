package infer

// NumericRange summarizes a numeric column at inference time.
type NumericRange struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

// Signature is the inference result for one column.
type Signature struct {
	Column          string       `json:"column"`
	Type            DetectedType `json:"type"`
	Confidence      float64      `json:"confidence"`
	NullPercentage  float64      `json:"null_percentage"`
	SampleValues    []string     `json:"sample_values"`
	ValidationRules []string     `json:"validation_rules"`

	// Type-specific details. Only the fields of the detected type are set.
	CurrencySymbol string        `json:"currency_symbol,omitempty"`
	DateFormat     string        `json:"date_format,omitempty"`
	Timezone       string        `json:"timezone,omitempty"`
	UniqueRatio    float64       `json:"unique_ratio,omitempty"`
	PrimaryKey     bool          `json:"is_primary_key,omitempty"`
	Categories     []string      `json:"categories,omitempty"`
	UniqueCount    int           `json:"unique_count,omitempty"`
	Numeric        *NumericRange `json:"numeric_range,omitempty"`
	TextLengthMean float64       `json:"text_length_mean,omitempty"`
	TextLengthMax  int           `json:"text_length_max,omitempty"`
}

// Signatures holds per-column results in table order.
type Signatures []Signature

// Get returns the signature for a column name.
func (s Signatures) Get(column string) (Signature, bool) {
	for _, sig := range s {
		if sig.Column == column {
			return sig, true
		}
	}
	return Signature{}, false
}

// ByType counts columns per detected type.
func (s Signatures) ByType() map[DetectedType]int {
	out := make(map[DetectedType]int)
	for _, sig := range s {
		out[sig.Type]++
	}
	return out
}

// MeanConfidence averages confidence over all columns. Empty input yields 0.
func (s Signatures) MeanConfidence() float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, sig := range s {
		sum += sig.Confidence
	}
	return sum / float64(len(s))
}
