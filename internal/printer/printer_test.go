package printer

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	var out, errOut bytes.Buffer
	restore := SetOutput(&out, &errOut)
	t.Cleanup(func() {
		restore()
		color.NoColor = prev
	})
	return &out, &errOut
}

func TestError(t *testing.T) {
	t.Run("single suggestion", func(t *testing.T) {
		_, errOut := capture(t)
		err := Error("Task not found", "No task matches 'abc123'.", []string{"Run 'chalk task list'."})
		require.Error(t, err)
		assert.Equal(t, "Task not found", err.Error())

		var f *Failure
		assert.True(t, errors.As(err, &f))
		assert.Contains(t, errOut.String(), "No task matches 'abc123'.")
		assert.Contains(t, errOut.String(), "Run 'chalk task list'.")
		assert.NotContains(t, errOut.String(), "Either:")
	})

	t.Run("several suggestions are numbered", func(t *testing.T) {
		_, errOut := capture(t)
		_ = Error("Redis unreachable", "", []string{"Start redis", "Use the sqlite backend"})
		assert.Contains(t, errOut.String(), "Either:\n  1. Start redis\n  2. Use the sqlite backend\n")
	})
}

func TestErrorWithContext(t *testing.T) {
	_, errOut := capture(t)
	err := ErrorWithContext("Claim failed", "Someone else holds the task.", map[string]string{
		"Task":  "t-1",
		"Agent": "worker",
	}, nil)
	assert.Equal(t, "Claim failed", err.Error())
	assert.Contains(t, errOut.String(), "  Agent: worker\n  Task: t-1\n")
}

func TestSuccess(t *testing.T) {
	out, _ := capture(t)
	Success("Posted %s\n", "f-1")
	Success("✓ already prefixed\n")
	assert.Equal(t, "✓ Posted f-1\n✓ already prefixed\n", out.String())
}
