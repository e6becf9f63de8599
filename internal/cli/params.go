package cli

import (
	"fmt"
	"strings"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// ParseParameters converts "key=value" and "key=value:type" arguments into
// JobParameters. type is string (default), long, double or date; "value(TYPE)"
// is accepted as well. A value containing ':' that does not end in a known
// type is kept as a string.
func ParseParameters(args []string) (model.JobParameters, error) {
	b := model.NewJobParametersBuilder()
	for _, arg := range args {
		key, text, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return model.JobParameters{}, fmt.Errorf("parameter %q: expected key=value", arg)
		}
		if i := strings.LastIndex(text, ":"); i >= 0 {
			if typ, known := parameterType(text[i+1:]); known {
				text = fmt.Sprintf("%s(%s)", text[:i], typ)
			}
		}
		if _, err := b.Parse(key, text); err != nil {
			return model.JobParameters{}, err
		}
	}
	return b.ToJobParameters(), nil
}

func parameterType(s string) (model.ParameterType, bool) {
	switch t := model.ParameterType(strings.ToUpper(strings.TrimSpace(s))); t {
	case model.ParameterTypeString, model.ParameterTypeLong, model.ParameterTypeDouble, model.ParameterTypeDate:
		return t, true
	default:
		return "", false
	}
}
