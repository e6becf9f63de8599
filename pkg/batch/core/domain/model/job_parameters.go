package model

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ParameterType is the declared type of a job parameter.
type ParameterType string

const (
	ParameterTypeString ParameterType = "STRING"
	ParameterTypeLong   ParameterType = "LONG"
	ParameterTypeDouble ParameterType = "DOUBLE"
	ParameterTypeDate   ParameterType = "DATE"
)

// JobParameter is one typed job parameter.
// Identifying parameters take part in the run identity used by the launch guard.
type JobParameter struct {
	Key         string        `json:"key"`
	Type        ParameterType `json:"type"`
	Value       interface{}   `json:"value"`
	Identifying bool          `json:"identifying"`
}

// JobParameters is an ordered key to (type, value) mapping.
type JobParameters struct {
	params []JobParameter
}

// NewJobParameters creates an empty JobParameters.
func NewJobParameters() JobParameters {
	return JobParameters{}
}

// Len returns the number of parameters.
func (jp JobParameters) Len() int {
	return len(jp.params)
}

// IsEmpty reports whether there are no parameters.
func (jp JobParameters) IsEmpty() bool {
	return len(jp.params) == 0
}

// Parameters returns the parameters in insertion order.
func (jp JobParameters) Parameters() []JobParameter {
	out := make([]JobParameter, len(jp.params))
	copy(out, jp.params)
	return out
}

// Keys returns parameter keys in insertion order.
func (jp JobParameters) Keys() []string {
	keys := make([]string, len(jp.params))
	for i, p := range jp.params {
		keys[i] = p.Key
	}
	return keys
}

// Lookup returns the parameter stored under key.
func (jp JobParameters) Lookup(key string) (JobParameter, bool) {
	for _, p := range jp.params {
		if p.Key == key {
			return p, true
		}
	}
	return JobParameter{}, false
}

// Get returns the raw value stored under key, or nil.
func (jp JobParameters) Get(key string) interface{} {
	if p, ok := jp.Lookup(key); ok {
		return p.Value
	}
	return nil
}

// GetString returns the string value stored under key.
func (jp JobParameters) GetString(key string) (string, bool) {
	s, ok := jp.Get(key).(string)
	return s, ok
}

// GetLong returns the integer value stored under key.
func (jp JobParameters) GetLong(key string) (int64, bool) {
	switch v := jp.Get(key).(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), v == float64(int64(v))
	}
	return 0, false
}

// GetDouble returns the float value stored under key.
func (jp JobParameters) GetDouble(key string) (float64, bool) {
	switch v := jp.Get(key).(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// GetDate returns the time value stored under key.
func (jp JobParameters) GetDate(key string) (time.Time, bool) {
	switch v := jp.Get(key).(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		return t, err == nil
	}
	return time.Time{}, false
}

// With returns a copy with p added, replacing an existing key in place.
func (jp JobParameters) With(p JobParameter) JobParameters {
	out := JobParameters{params: make([]JobParameter, 0, len(jp.params)+1)}
	replaced := false
	for _, existing := range jp.params {
		if existing.Key == p.Key {
			out.params = append(out.params, p)
			replaced = true
			continue
		}
		out.params = append(out.params, existing)
	}
	if !replaced {
		out.params = append(out.params, p)
	}
	return out
}

// Identity returns a stable hash over the identifying parameters in insertion order.
// Two parameter sets with the same identity denote the same job instance.
func (jp JobParameters) Identity() string {
	h := sha256.New()
	for _, p := range jp.params {
		if !p.Identifying {
			continue
		}
		fmt.Fprintf(h, "%s|%s|%s;", p.Key, p.Type, formatParameterValue(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Equal reports whether both sets have the same identity.
func (jp JobParameters) Equal(other JobParameters) bool {
	return jp.Identity() == other.Identity()
}

func formatParameterValue(p JobParameter) string {
	switch v := p.Value.(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case float64:
		if p.Type == ParameterTypeLong {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

var (
	maskedKeysMu sync.RWMutex
	maskedKeys   = map[string]struct{}{}
)

// SetMaskedParameterKeys sets parameter keys whose values are masked by String.
func SetMaskedParameterKeys(keys []string) {
	maskedKeysMu.Lock()
	defer maskedKeysMu.Unlock()
	maskedKeys = make(map[string]struct{}, len(keys))
	for _, k := range keys {
		maskedKeys[k] = struct{}{}
	}
}

func isMaskedKey(key string) bool {
	maskedKeysMu.RLock()
	defer maskedKeysMu.RUnlock()
	_, ok := maskedKeys[key]
	return ok
}

// String renders the parameters with masked values hidden.
func (jp JobParameters) String() string {
	parts := make([]string, 0, len(jp.params))
	for _, p := range jp.params {
		v := formatParameterValue(p)
		if isMaskedKey(p.Key) {
			v = "********"
		}
		parts = append(parts, fmt.Sprintf("%s=%s(%s)", p.Key, v, p.Type))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// MarshalJSON implements json.Marshaler.
func (jp JobParameters) MarshalJSON() ([]byte, error) {
	if jp.params == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(jp.params)
}

// UnmarshalJSON implements json.Unmarshaler. Values are normalized to their declared type.
func (jp *JobParameters) UnmarshalJSON(data []byte) error {
	var raw []JobParameter
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for i := range raw {
		raw[i].Value = normalizeParameterValue(raw[i].Type, raw[i].Value)
	}
	jp.params = raw
	return nil
}

func normalizeParameterValue(t ParameterType, v interface{}) interface{} {
	switch t {
	case ParameterTypeLong:
		if f, ok := v.(float64); ok {
			return int64(f)
		}
	case ParameterTypeDate:
		if s, ok := v.(string); ok {
			if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return ts
			}
		}
	}
	return v
}

// Value implements driver.Valuer.
func (jp JobParameters) Value() (driver.Value, error) {
	b, err := jp.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (jp *JobParameters) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*jp = NewJobParameters()
		return nil
	case []byte:
		return jp.UnmarshalJSON(v)
	case string:
		return jp.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("unsupported Scan type for JobParameters: %T", value)
	}
}

// JobParametersBuilder builds JobParameters fluently.
type JobParametersBuilder struct {
	params JobParameters
}

// NewJobParametersBuilder creates an empty builder.
func NewJobParametersBuilder() *JobParametersBuilder {
	return &JobParametersBuilder{}
}

// NewJobParametersBuilderFrom starts from existing parameters.
func NewJobParametersBuilderFrom(params JobParameters) *JobParametersBuilder {
	return &JobParametersBuilder{params: params}
}

func (b *JobParametersBuilder) add(key string, t ParameterType, v interface{}, identifying []bool) *JobParametersBuilder {
	id := true
	if len(identifying) > 0 {
		id = identifying[0]
	}
	b.params = b.params.With(JobParameter{Key: key, Type: t, Value: v, Identifying: id})
	return b
}

// AddString adds a STRING parameter. Parameters are identifying unless stated otherwise.
func (b *JobParametersBuilder) AddString(key, value string, identifying ...bool) *JobParametersBuilder {
	return b.add(key, ParameterTypeString, value, identifying)
}

// AddLong adds a LONG parameter.
func (b *JobParametersBuilder) AddLong(key string, value int64, identifying ...bool) *JobParametersBuilder {
	return b.add(key, ParameterTypeLong, value, identifying)
}

// AddDouble adds a DOUBLE parameter.
func (b *JobParametersBuilder) AddDouble(key string, value float64, identifying ...bool) *JobParametersBuilder {
	return b.add(key, ParameterTypeDouble, value, identifying)
}

// AddDate adds a DATE parameter.
func (b *JobParametersBuilder) AddDate(key string, value time.Time, identifying ...bool) *JobParametersBuilder {
	return b.add(key, ParameterTypeDate, value, identifying)
}

// Parse adds a parameter from its textual form "value" or "value(TYPE)".
func (b *JobParametersBuilder) Parse(key, text string) (*JobParametersBuilder, error) {
	value, typ := text, ParameterTypeString
	if i := strings.LastIndex(text, "("); i > 0 && strings.HasSuffix(text, ")") {
		value, typ = text[:i], ParameterType(strings.ToUpper(text[i+1:len(text)-1]))
	}
	switch typ {
	case ParameterTypeString:
		return b.AddString(key, value), nil
	case ParameterTypeLong:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return b, fmt.Errorf("parameter %q: invalid LONG %q: %w", key, value, err)
		}
		return b.AddLong(key, n), nil
	case ParameterTypeDouble:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return b, fmt.Errorf("parameter %q: invalid DOUBLE %q: %w", key, value, err)
		}
		return b.AddDouble(key, f), nil
	case ParameterTypeDate:
		t, err := time.Parse(time.RFC3339, value)
		if err != nil {
			if t, err = time.Parse("2006-01-02", value); err != nil {
				return b, fmt.Errorf("parameter %q: invalid DATE %q: %w", key, value, err)
			}
		}
		return b.AddDate(key, t), nil
	default:
		return b, fmt.Errorf("parameter %q: unknown type %q", key, typ)
	}
}

// ToJobParameters returns the built parameters.
func (b *JobParametersBuilder) ToJobParameters() JobParameters {
	return b.params
}
