package corort

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapfPreservesSentinel(t *testing.T) {
	err := wrapf("corort: register poll fd", ErrIoRegistration)
	require.ErrorIs(t, err, ErrIoRegistration)
	require.Contains(t, err.Error(), "register poll fd")
}

func TestWrapfNilCause(t *testing.T) {
	err := wrapf("bare message", nil)
	require.EqualError(t, err, "bare message")
	require.Nil(t, errors.Unwrap(err))
}
