package xerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, OK},
		{"直接错误码", NewErrCode(InsufficientBalance), InsufficientBalance},
		{"wrap 之后", Wrap(DbError, errors.New("conn reset"), "save order"), DbError},
		{"fmt 多层包装", fmt.Errorf("settle: %w", NewErrCode(LockConflict)), LockConflict},
		{"普通错误", errors.New("boom"), ServerCommonError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("x: %w", New(RecordNotFound, "order 7"))
	assert.True(t, Is(err, RecordNotFound))
	assert.False(t, Is(err, DbError))
	assert.False(t, Is(nil, OK))
	assert.Nil(t, Wrap(DbError, nil, "noop"))
}
