package device

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge-io/flowforge/pkg/concurrency"
	"github.com/flowforge-io/flowforge/pkg/errors"
	"github.com/flowforge-io/flowforge/pkg/pipeline"
)

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	echo := ExecutorFunc(func(_ context.Context, _ string, inputs map[string]interface{}) (map[string]interface{}, error) {
		return inputs, nil
	})
	r.Register("sensors.echo", echo)

	exec, err := r.Resolve("sensors.echo")
	require.NoError(t, err)
	out, err := exec.Execute(context.Background(), "fn", map[string]interface{}{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, out["a"])

	_, err = r.Resolve("missing")
	var notFound *errors.DeviceNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "missing", notFound.PluginID)

	r.Register("a.plugin", echo)
	assert.Equal(t, []string{"a.plugin", "sensors.echo"}, r.List())
	assert.True(t, r.Has("a.plugin"))
	assert.False(t, r.Has("b.plugin"))
}

func TestStaticMetadataPins(t *testing.T) {
	m := NewStaticMetadata()
	m.Declare("p", "fn",
		[]pipeline.Pin{{Name: "in", Type: pipeline.PinNumber, Required: true}},
		[]pipeline.Pin{{Name: "out", Type: pipeline.PinString}},
	)

	inputs, outputs, err := m.FunctionPins("p", "fn")
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.True(t, inputs[0].Required)
	require.Len(t, outputs, 1)
	assert.Equal(t, pipeline.PinString, outputs[0].Type)

	// Unknown functions are not an error: empty pins let the router fall
	// back to the node's declared pins.
	inputs, outputs, err = m.FunctionPins("p", "other")
	require.NoError(t, err)
	assert.Empty(t, inputs)
	assert.Empty(t, outputs)
}

func TestGuardOpensOnRepeatedFailures(t *testing.T) {
	var calls int
	failing := ExecutorFunc(func(context.Context, string, map[string]interface{}) (map[string]interface{}, error) {
		calls++
		return nil, stderrors.New("device offline")
	})
	g := Guard(failing, concurrency.NewBreaker(2, time.Minute))
	ctx := context.Background()

	_, err := g.Execute(ctx, "fn", nil)
	require.Error(t, err)
	_, err = g.Execute(ctx, "fn", nil)
	require.Error(t, err)

	// Breaker is open now; the device is no longer called.
	_, err = g.Execute(ctx, "fn", nil)
	assert.ErrorIs(t, err, errors.ErrCircuitOpen)
	assert.Equal(t, 2, calls)
	assert.Equal(t, concurrency.BreakerOpen, g.Breaker().State())
}

func TestGuardPassesThroughSuccess(t *testing.T) {
	ok := ExecutorFunc(func(_ context.Context, _ string, _ map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"value": true}, nil
	})
	g := Guard(ok, nil)

	out, err := g.Execute(context.Background(), "fn", nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["value"])
	assert.Equal(t, concurrency.BreakerClosed, g.Breaker().State())
}

func TestScriptExecutorEvaluatesObject(t *testing.T) {
	exec, err := NewScriptExecutor(map[string]string{
		"celsius_to_f": `(function() {
			return { value: inputs.celsius * 9 / 5 + 32 };
		})()`,
	})
	require.NoError(t, err)

	out, err := exec.Execute(context.Background(), "celsius_to_f", map[string]interface{}{"celsius": 37.0})
	require.NoError(t, err)
	assert.Equal(t, 98.6, out["value"])
}

func TestScriptExecutorRejectsNonObjectResult(t *testing.T) {
	exec, err := NewScriptExecutor(map[string]string{"scalar": `42`})
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), "scalar", nil)
	var fnErr *errors.DeviceFunctionError
	require.ErrorAs(t, err, &fnErr)
}

func TestScriptExecutorUnknownFunction(t *testing.T) {
	exec, err := NewScriptExecutor(nil)
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), "nope", nil)
	require.Error(t, err)
}

func TestScriptExecutorCompileError(t *testing.T) {
	_, err := NewScriptExecutor(map[string]string{"bad": `function (`})
	assert.Error(t, err)
}

func TestScriptExecutorAddFunction(t *testing.T) {
	exec, err := NewScriptExecutor(nil)
	require.NoError(t, err)
	require.NoError(t, exec.AddFunction("id", `(function() { return { ok: true }; })()`))

	out, err := exec.Execute(context.Background(), "id", nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
}

func TestScriptExecutorInterruptedByContext(t *testing.T) {
	exec, err := NewScriptExecutor(map[string]string{"spin": `(function() {
		while (true) {}
	})()`})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = exec.Execute(ctx, "spin", nil)
	require.Error(t, err)
}
