package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/flowforge-io/flowforge/pkg/errors"
	"github.com/flowforge-io/flowforge/pkg/pipeline"
)

var dateTimePins = map[string]functionPins{
	"now": {
		outputs: pins(pin("value", pipeline.PinString)),
	},
	"format": {
		inputs: pins(pin("value", pipeline.PinString), pin("layout", pipeline.PinString),
			pin("timezone", pipeline.PinString)),
		outputs: pins(pin("value", pipeline.PinString)),
	},
	"parse": {
		inputs:  pins(pin("value", pipeline.PinString), pin("layout", pipeline.PinString)),
		outputs: pins(pin("value", pipeline.PinNumber)),
	},
	"add": {
		inputs:  pins(pin("value", pipeline.PinString), pin("duration", pipeline.PinString)),
		outputs: pins(pin("value", pipeline.PinString)),
	},
}

// Named layouts accepted alongside raw Go reference layouts.
var namedLayouts = map[string]string{
	"rfc3339":   time.RFC3339,
	"date_only": "2006-01-02",
	"time_only": "15:04:05",
	"datetime":  "2006-01-02 15:04:05",
}

func executeDateTime(_ context.Context, functionID string, inputs map[string]interface{}) (map[string]interface{}, error) {
	switch functionID {
	case "now":
		return single(time.Now().UTC().Format(time.RFC3339)), nil

	case "format":
		t, err := parseTimestamp(getString(inputs, "value", ""))
		if err != nil {
			return nil, dateTimeError(functionID, err)
		}
		if tz := getString(inputs, "timezone", ""); tz != "" {
			loc, lerr := time.LoadLocation(tz)
			if lerr != nil {
				return nil, dateTimeError(functionID, fmt.Errorf("unknown timezone %q: %w", tz, lerr))
			}
			t = t.In(loc)
		}
		return single(t.Format(resolveLayout(getString(inputs, "layout", "rfc3339")))), nil

	case "parse":
		layout := resolveLayout(getString(inputs, "layout", "rfc3339"))
		t, err := time.Parse(layout, getString(inputs, "value", ""))
		if err != nil {
			return nil, dateTimeError(functionID, err)
		}
		return single(float64(t.Unix())), nil

	case "add":
		t, err := parseTimestamp(getString(inputs, "value", ""))
		if err != nil {
			return nil, dateTimeError(functionID, err)
		}
		d, err := time.ParseDuration(getString(inputs, "duration", ""))
		if err != nil {
			return nil, dateTimeError(functionID, fmt.Errorf("invalid duration: %w", err))
		}
		return single(t.Add(d).Format(time.RFC3339)), nil
	}
	return nil, dateTimeError(functionID, fmt.Errorf("unknown function"))
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp must be RFC3339: %w", err)
	}
	return t, nil
}

func resolveLayout(layout string) string {
	if named, ok := namedLayouts[layout]; ok {
		return named
	}
	return layout
}

func dateTimeError(functionID string, cause error) error {
	return &errors.DeviceFunctionError{
		PluginID:   PluginDateTime,
		FunctionID: functionID,
		Cause:      cause,
	}
}
