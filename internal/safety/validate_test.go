package safety

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateInputCleansStringLeaves(t *testing.T) {
	e := newTestEnforcer()

	cleaned, err := e.ValidateInput(map[string]any{
		"topic":   "contact john.doe@example.com",
		"budget":  42,
		"urgent":  true,
		"comment": nil,
	}, "job_1")
	require.NoError(t, err)

	assert.Equal(t, "contact j******e@example.com", cleaned["topic"])
	assert.Equal(t, 42, cleaned["budget"])
	assert.Equal(t, true, cleaned["urgent"])
	assert.Nil(t, cleaned["comment"])
}

func TestValidateOutputRecursesNestedMaps(t *testing.T) {
	e := newTestEnforcer()

	cleaned, err := e.ValidateOutput(map[string]any{
		"summary": "call 555-123-4567",
		"details": map[string]any{
			"contact": "jd@example.com",
			"depth": map[string]any{
				"ip": "10.0.0.1",
			},
		},
	}, "job_1")
	require.NoError(t, err)

	assert.Equal(t, "call [PHONE_REDACTED]", cleaned["summary"])
	details := cleaned["details"].(map[string]any)
	assert.Equal(t, "***@example.com", details["contact"])
	depth := details["depth"].(map[string]any)
	assert.Equal(t, "XXX.XXX.XXX.XXX", depth["ip"])
}

func TestValidateOutputScansSequencesElementWise(t *testing.T) {
	e := newTestEnforcer()

	cleaned, err := e.ValidateOutput(map[string]any{
		"mixed":   []any{"jd@example.com", 7, "ok"},
		"strings": []string{"555-123-4567", "clean"},
	}, "job_1")
	require.NoError(t, err)

	mixed := cleaned["mixed"].([]any)
	assert.Equal(t, "***@example.com", mixed[0])
	assert.Equal(t, 7, mixed[1])
	assert.Equal(t, "ok", mixed[2])

	strs := cleaned["strings"].([]string)
	assert.Equal(t, "[PHONE_REDACTED]", strs[0])
	assert.Equal(t, "clean", strs[1])
}

func TestValidateRejectsExcessiveDepth(t *testing.T) {
	e := newTestEnforcer()

	deep := map[string]any{"leaf": "value"}
	for i := 0; i < MaxDepth+5; i++ {
		deep = map[string]any{"nested": deep}
	}

	_, err := e.ValidateInput(deep, "job_1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDepthExceeded))
}

func TestValidateNilMap(t *testing.T) {
	e := newTestEnforcer()
	cleaned, err := e.ValidateInput(nil, "job_1")
	require.NoError(t, err)
	assert.Nil(t, cleaned)
}
