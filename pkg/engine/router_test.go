package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge-io/flowforge/pkg/pipeline"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		name    string
		value   interface{}
		to      pipeline.PinType
		want    interface{}
		wantErr bool
	}{
		{"number passthrough", float64(5), pipeline.PinNumber, float64(5), false},
		{"int normalized", 5, pipeline.PinNumber, float64(5), false},
		{"bool to number", true, pipeline.PinNumber, float64(1), false},
		{"false to number", false, pipeline.PinNumber, float64(0), false},
		{"string to number fails", "5", pipeline.PinNumber, nil, true},
		{"number to bool", float64(0), pipeline.PinBoolean, false, false},
		{"nonzero to bool", float64(2), pipeline.PinBoolean, true, false},
		{"number to string", float64(5), pipeline.PinString, "5", false},
		{"fraction to string", 2.5, pipeline.PinString, "2.5", false},
		{"bool to string fails", true, pipeline.PinString, nil, true},
		{"scalar wraps to array", "x", pipeline.PinArray, []interface{}{"x"}, false},
		{"array passthrough", []interface{}{1.0}, pipeline.PinArray, []interface{}{1.0}, false},
		{"object to array fails", map[string]interface{}{}, pipeline.PinArray, nil, true},
		{"string to object fails", "x", pipeline.PinObject, nil, true},
		{"nil passes anywhere", nil, pipeline.PinNumber, nil, false},
		{"any accepts all", map[string]interface{}{"k": 1}, pipeline.PinAny,
			map[string]interface{}{"k": 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.value, tt.to)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubstituteExactReferencePreservesType(t *testing.T) {
	r := NewRouter(nil)
	ectx := NewContext("p", map[string]interface{}{
		"count": float64(7),
		"name":  "probe",
	})

	assert.Equal(t, float64(7), r.substitute("{{global.count}}", ectx))
	assert.Equal(t, "sensor probe 7", r.substitute("sensor {{global.name}} {{global.count}}", ectx))
	// Missing variables stay literal.
	assert.Equal(t, "{{global.ghost}}", r.substitute("{{global.ghost}}", ectx))
	assert.Equal(t, "a {{global.ghost}} b", r.substitute("a {{global.ghost}} b", ectx))
	// Non-strings pass through untouched.
	assert.Equal(t, float64(3), r.substitute(float64(3), ectx))
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(false))
	assert.False(t, Truthy(float64(0)))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy([]interface{}{}))
	assert.True(t, Truthy(true))
	assert.True(t, Truthy(float64(0.5)))
	assert.True(t, Truthy("no"))
	assert.True(t, Truthy([]interface{}{false}))
}
