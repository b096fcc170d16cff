package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := New(CodeFileTooLarge, "too big").WithContext("size", 10).WithContext("limit", 5)
	assert.Equal(t, "[E102] too big (limit=5, size=10)", err.Error())

	wrapped := Wrap(fmt.Errorf("boom"), CodeParseFailed, "read")
	assert.Equal(t, "[E201] read: boom", wrapped.Error())
	assert.Nil(t, Wrap(nil, CodeParseFailed, "read"))
}

func TestCodeHelpers(t *testing.T) {
	err := fmt.Errorf("outer: %w", FileNotFound("/tmp/x.csv"))

	assert.True(t, IsCode(err, CodeFileNotFound))
	assert.Equal(t, CodeFileNotFound, GetCode(err))
	assert.True(t, IsInput(err))
	assert.False(t, IsInput(StageFailed("data_cleaning", errors.New("x"))))
	assert.Equal(t, CodeUnknown, GetCode(errors.New("plain")))
	assert.True(t, errors.Is(err, &Error{Code: CodeFileNotFound}))
}

func TestMultiError(t *testing.T) {
	var m MultiError
	assert.NoError(t, m.Combined())

	m.Add(nil)
	m.Add(errors.New("a"))
	assert.EqualError(t, m.Combined(), "a")

	m.Add(errors.New("b"))
	assert.True(t, m.HasErrors())
	assert.Contains(t, m.Combined().Error(), "2 errors occurred")
}
