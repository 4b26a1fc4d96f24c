package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindMatching(t *testing.T) {
	err := fmt.Errorf("book: %w", Conflict("slot %s taken", "09:00"))

	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, "slot 09:00 taken", Message(err))
}

func TestUnkindedErrorsAreInternal(t *testing.T) {
	err := errors.New("connection reset")
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, "internal error", Message(err))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("row missing")
	err := Wrap(KindNotFound, cause, "appointment %q", "a-1")

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, `NotFound: appointment "a-1": row missing`, err.Error())
}
