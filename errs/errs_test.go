package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	e := Timeout("request", errors.New("deadline exceeded"))
	require.Equal(t, "timeout: request: deadline exceeded", e.Error())

	bare := Supervisor("spawn", nil)
	require.Equal(t, "supervisor: spawn", bare.Error())
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := Protocol("dispatch", cause)
	require.ErrorIs(t, e, cause)
}

func TestIs(t *testing.T) {
	e := ChannelClosed("await", errors.New("closed"))
	require.True(t, Is(e, CodeChannelClosed))
	require.False(t, Is(e, CodeTimeout))

	wrapped := fmt.Errorf("context: %w", e)
	require.True(t, Is(wrapped, CodeChannelClosed))

	require.False(t, Is(errors.New("plain"), CodeTransport))
}
