package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	base := errors.New("disk full")

	t.Run("new error carries its code", func(t *testing.T) {
		err := New(CodeNotFound, "session not found")
		assert.True(t, HasCode(err, CodeNotFound))
		assert.False(t, HasCode(err, CodeInternal))
	})

	t.Run("wrapped errors keep the cause", func(t *testing.T) {
		err := Wrap(base, CodeInternal, "persist failed")
		assert.True(t, HasCode(err, CodeInternal))
		assert.ErrorIs(t, err, base)
	})

	t.Run("code survives fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("engine: %w", New(CodeInvalidState, "session is terminal"))
		assert.True(t, Is(err, CodeInvalidState))
	})

	t.Run("outermost code wins", func(t *testing.T) {
		err := Wrap(New(CodeNotFound, "inner"), CodeInternal, "outer")
		code, ok := CodeOf(err)
		assert.True(t, ok)
		assert.Equal(t, CodeInternal, code)
	})

	t.Run("wrapping nil stays nil", func(t *testing.T) {
		assert.NoError(t, Wrap(nil, CodeInternal, "nothing"))
	})

	t.Run("plain errors have no code", func(t *testing.T) {
		assert.False(t, HasCode(base, CodeInternal))
	})
}
