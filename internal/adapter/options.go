package adapter

// Options are the sampling parameters of a request. Nil pointers mean unset.
type Options struct {
	Model            string
	Temperature      *float64
	MaxTokens        *int
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	TopK             *int
	Stop             []string
	// Extra is merged into the vendor request body as-is.
	Extra map[string]any
}

// DefaultOptions mirrors the low-tier model configuration used for chat
// replies.
func DefaultOptions() Options {
	return Options{
		Temperature:      Float(0.7),
		MaxTokens:        Int(10000),
		TopP:             Float(1),
		FrequencyPenalty: Float(0),
		PresencePenalty:  Float(0),
	}
}

// WithDefaults returns o with every unset field taken from d.
func (o Options) WithDefaults(d Options) Options {
	if o.Model == "" {
		o.Model = d.Model
	}
	if o.Temperature == nil {
		o.Temperature = d.Temperature
	}
	if o.MaxTokens == nil {
		o.MaxTokens = d.MaxTokens
	}
	if o.TopP == nil {
		o.TopP = d.TopP
	}
	if o.FrequencyPenalty == nil {
		o.FrequencyPenalty = d.FrequencyPenalty
	}
	if o.PresencePenalty == nil {
		o.PresencePenalty = d.PresencePenalty
	}
	if o.TopK == nil {
		o.TopK = d.TopK
	}
	if len(o.Stop) == 0 {
		o.Stop = d.Stop
	}
	if len(d.Extra) > 0 {
		merged := make(map[string]any, len(d.Extra)+len(o.Extra))
		for k, v := range d.Extra {
			merged[k] = v
		}
		for k, v := range o.Extra {
			merged[k] = v
		}
		o.Extra = merged
	}
	return o
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// FloatValue dereferences p, returning def when p is nil.
func FloatValue(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// IntValue dereferences p, returning def when p is nil.
func IntValue(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}
