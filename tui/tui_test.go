package tui

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withoutTTY(t *testing.T) {
	original := HasTTY
	t.Cleanup(func() { HasTTY = original })
	HasTTY = false
}

func TestHasTTY(t *testing.T) {
	assert.Contains(t, []bool{true, false}, HasTTY)
}

func TestWidth(t *testing.T) {
	withoutTTY(t)
	assert.Equal(t, 80, Width())
}

func TestShowSpinner(t *testing.T) {
	withoutTTY(t)
	var ran bool
	err := ShowSpinner(context.Background(), "working", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	boom := errors.New("boom")
	err = ShowSpinner(context.Background(), "working", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestAskWithoutTerminal(t *testing.T) {
	withoutTTY(t)
	ok, err := Ask("Delete everything?", true)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNoTerminal)
}

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	Table(&buf, []string{"Key", "Size"}, [][]string{{"abc", "12"}, {"def", "3"}})
	out := buf.String()
	assert.Contains(t, out, "Key")
	assert.Contains(t, out, "abc")
	assert.Contains(t, out, "def")

	buf.Reset()
	Properties(&buf, [][2]string{{"Entries", "42"}})
	assert.Contains(t, buf.String(), "Entries")
	assert.Contains(t, buf.String(), "42")
}

func TestMessages(t *testing.T) {
	var buf bytes.Buffer
	ShowSuccess(&buf, "removed %d", 3)
	ShowWarning(&buf, "skipped %s", "x")
	ShowError(&buf, "failed")
	out := buf.String()
	assert.Contains(t, out, "removed 3")
	assert.Contains(t, out, "skipped x")
	assert.Contains(t, out, "failed")
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "1.0 KiB", Bytes(1024))
	assert.Equal(t, "-", Age(time.Time{}))
	assert.Contains(t, Age(time.Now().Add(-2*time.Hour)), "hours ago")
	assert.Equal(t, "short", MaxWidth("short", 10))
	assert.Equal(t, "abcd...", MaxWidth("abcdefghij", 7))
}
