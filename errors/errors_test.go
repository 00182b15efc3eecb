package errors_test

import (
	"fmt"
	"testing"

	"github.com/stratabase/strata/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrors(t *testing.T) {
	t.Run("wrap nil error", func(t *testing.T) {
		var err error
		err = errors.Wrap(err, errors.NotFound, "")
		assert.Nil(t, err)
	})
	t.Run("wrap error", func(t *testing.T) {
		var err = fmt.Errorf("not found")
		err = errors.Wrap(err, errors.NotFound, "")
		assert.Equal(t, errors.NotFound, errors.Extract(err).Code)
	})
	t.Run("new error", func(t *testing.T) {
		err := errors.New(errors.NotFound, "not found")
		assert.Equal(t, errors.NotFound, errors.Extract(err).Code)
	})
	t.Run("new error then wrap", func(t *testing.T) {
		err := errors.New(0, "not found")
		err = errors.Wrap(err, errors.NotFound, "")
		assert.Equal(t, errors.NotFound, errors.Extract(err).Code)
	})
	t.Run("wrap keeps first code", func(t *testing.T) {
		err := errors.New(errors.Conflict, "already exists")
		err = errors.Wrap(err, 0, "creating collection")
		assert.Equal(t, errors.Conflict, errors.Extract(err).Code)
		assert.Len(t, errors.Extract(err).Messages, 2)
	})
	t.Run("new error then wrap then remove", func(t *testing.T) {
		err := errors.New(0, "not found")
		err = errors.Wrap(err, errors.NotFound, "")
		e := errors.Extract(err).RemoveError()
		assert.Empty(t, e.Err)
	})
	t.Run("error json string", func(t *testing.T) {
		err := errors.New(0, "not found")
		err = errors.Wrap(err, errors.NotFound, "")
		e := errors.Extract(err).RemoveError()
		assert.JSONEq(t, `{ "code":404, "messages": ["not found"]}`, e.Error())
	})
	t.Run("extract plain error", func(t *testing.T) {
		err := fmt.Errorf("disk full")
		e := errors.Extract(err)
		assert.Equal(t, errors.Code(0), e.Code)
		assert.Equal(t, err, e.Err)
	})
}
