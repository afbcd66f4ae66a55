package notify

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestRecorder_DrainEmpties(t *testing.T) {
	r := NewRecorder()
	Info(r, "verifying payment")
	WithAction(r, LevelWarning, "no pages left", ActionUpgrade)

	assert.Len(t, r.Peek(), 2)

	got := r.Drain()
	assert.Len(t, got, 2)
	assert.Equal(t, LevelInfo, got[0].Level)
	assert.Equal(t, ActionUpgrade, got[1].Action)
	assert.False(t, got[0].CreatedAt.IsZero())

	assert.Empty(t, r.Drain())
}

func TestMulti(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	Success(Multi{a, b}, "done")
	assert.Len(t, a.Drain(), 1)
	assert.Len(t, b.Drain(), 1)
}

func TestConsole(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	c := NewConsole(&buf)

	Error(c, "conversion failed")
	WithAction(c, LevelWarning, "quota exceeded", ActionUpgrade)

	assert.Equal(t, "[error] conversion failed\n[warning] quota exceeded (upgrade)\n", buf.String())
}
