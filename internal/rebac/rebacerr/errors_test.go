package rebacerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrappedErrorsMatchSentinel(t *testing.T) {
	assert.ErrorIs(t, NotFound("tuple %s", "abc"), ErrNotFound)
	assert.ErrorIs(t, Conflict("dup %s", "abc"), ErrConflict)
	assert.ErrorIs(t, StorageUnavailable("open %s", "db"), ErrStorageUnavailable)
	assert.ErrorIs(t, InvalidSubject("bad %s", "subject"), ErrInvalidSubject)
	assert.ErrorIs(t, InvalidObject("bad %s", "object"), ErrInvalidObject)
	assert.ErrorIs(t, Cycle("loop at %s", "x"), ErrCycle)
	assert.ErrorIs(t, ZoneNotFound("zone %s", "z1"), ErrZoneNotFound)
	assert.ErrorIs(t, UnknownRelation("relation %s", "r"), ErrUnknownRelation)
}

func TestIsDenyable(t *testing.T) {
	assert.True(t, IsDenyable(ErrNotFound))
	assert.True(t, IsDenyable(NotFound("x")))
	assert.False(t, IsDenyable(nil))
	assert.False(t, IsDenyable(errors.New("unrelated")))
}
