package hardware

import (
	"errors"
	"fmt"
	"testing"

	"github.com/arloliu/go-spectrad/wire"
	"github.com/stretchr/testify/assert"
)

func TestNewError(t *testing.T) {
	assert := assert.New(t)

	assert.NoError(NewError("SetIntegrationTime", CodeOK))

	err := NewError("SetIntegrationTime", CodeValueOutOfRange)
	assert.EqualError(err, "SetIntegrationTime: driver error code 4 (value out of range)")
	assert.ErrorIs(err, wire.ErrHardware)
	assert.Equal(wire.StatusHardware, wire.StatusOf(fmt.Errorf("acquire: %w", err)))

	var hwErr *Error
	assert.True(errors.As(err, &hwErr))
	assert.Equal(CodeValueOutOfRange, hwErr.Code)
}
