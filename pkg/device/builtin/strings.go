package builtin

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/flowforge-io/flowforge/pkg/errors"
	"github.com/flowforge-io/flowforge/pkg/pipeline"
)

var stringPins = map[string]functionPins{
	"concat": {
		inputs:  pins(pin("parts", pipeline.PinArray), pin("separator", pipeline.PinString)),
		outputs: pins(pin("value", pipeline.PinString)),
	},
	"split": {
		inputs:  pins(pin("value", pipeline.PinString), pin("delimiter", pipeline.PinString)),
		outputs: pins(pin("value", pipeline.PinArray)),
	},
	"trim": {
		inputs:  pins(pin("value", pipeline.PinString), pin("cutset", pipeline.PinString)),
		outputs: pins(pin("value", pipeline.PinString)),
	},
	"replace": {
		inputs: pins(pin("value", pipeline.PinString), pin("old", pipeline.PinString),
			pin("new", pipeline.PinString)),
		outputs: pins(pin("value", pipeline.PinString)),
	},
	"upper": {
		inputs:  pins(pin("value", pipeline.PinString)),
		outputs: pins(pin("value", pipeline.PinString)),
	},
	"lower": {
		inputs:  pins(pin("value", pipeline.PinString)),
		outputs: pins(pin("value", pipeline.PinString)),
	},
	"title": {
		inputs:  pins(pin("value", pipeline.PinString)),
		outputs: pins(pin("value", pipeline.PinString)),
	},
	"contains": {
		inputs:  pins(pin("value", pipeline.PinString), pin("substring", pipeline.PinString)),
		outputs: pins(pin("value", pipeline.PinBoolean)),
	},
	"length": {
		inputs:  pins(pin("value", pipeline.PinString)),
		outputs: pins(pin("value", pipeline.PinNumber)),
	},
	"regex_extract": {
		inputs:  pins(pin("value", pipeline.PinString), pin("pattern", pipeline.PinString)),
		outputs: pins(pin("value", pipeline.PinArray)),
	},
	"base64_encode": {
		inputs:  pins(pin("value", pipeline.PinString)),
		outputs: pins(pin("value", pipeline.PinString)),
	},
	"base64_decode": {
		inputs:  pins(pin("value", pipeline.PinString)),
		outputs: pins(pin("value", pipeline.PinString)),
	},
	"uri_encode": {
		inputs:  pins(pin("value", pipeline.PinString)),
		outputs: pins(pin("value", pipeline.PinString)),
	},
	"uri_decode": {
		inputs:  pins(pin("value", pipeline.PinString)),
		outputs: pins(pin("value", pipeline.PinString)),
	},
}

func executeStrings(_ context.Context, functionID string, inputs map[string]interface{}) (map[string]interface{}, error) {
	value := getString(inputs, "value", "")
	switch functionID {
	case "concat":
		sep := getString(inputs, "separator", "")
		return single(strings.Join(getStringSlice(inputs, "parts"), sep)), nil

	case "split":
		delim := getString(inputs, "delimiter", "")
		if delim == "" {
			return single(toInterfaceSlice([]string{value})), nil
		}
		return single(toInterfaceSlice(strings.Split(value, delim))), nil

	case "trim":
		if cutset := getString(inputs, "cutset", ""); cutset != "" {
			return single(strings.Trim(value, cutset)), nil
		}
		return single(strings.TrimSpace(value)), nil

	case "replace":
		return single(strings.ReplaceAll(value,
			getString(inputs, "old", ""), getString(inputs, "new", ""))), nil

	case "upper":
		return single(strings.ToUpper(value)), nil

	case "lower":
		return single(strings.ToLower(value)), nil

	case "title":
		return single(cases.Title(language.Und).String(value)), nil

	case "contains":
		return single(strings.Contains(value, getString(inputs, "substring", ""))), nil

	case "length":
		return single(float64(utf8.RuneCountInString(value))), nil

	case "regex_extract":
		re, err := regexp.Compile(getString(inputs, "pattern", ""))
		if err != nil {
			return nil, stringsError(functionID, fmt.Errorf("invalid pattern: %w", err))
		}
		matches := re.FindAllString(value, -1)
		return single(toInterfaceSlice(matches)), nil

	case "base64_encode":
		return single(base64.StdEncoding.EncodeToString([]byte(value))), nil

	case "base64_decode":
		b, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return nil, stringsError(functionID, err)
		}
		return single(string(b)), nil

	case "uri_encode":
		return single(url.QueryEscape(value)), nil

	case "uri_decode":
		s, err := url.QueryUnescape(value)
		if err != nil {
			return nil, stringsError(functionID, err)
		}
		return single(s), nil
	}
	return nil, stringsError(functionID, fmt.Errorf("unknown function"))
}

func stringsError(functionID string, cause error) error {
	return &errors.DeviceFunctionError{
		PluginID:   PluginStrings,
		FunctionID: functionID,
		Cause:      cause,
	}
}

func single(v interface{}) map[string]interface{} {
	return map[string]interface{}{pipeline.PinNameValue: v}
}

func getString(m map[string]interface{}, key, def string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return def
}

func getStringSlice(m map[string]interface{}, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	}
	return nil
}

func toInterfaceSlice(items []string) []interface{} {
	out := make([]interface{}, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}
