package aio

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesByCodeIgnoringMessage(t *testing.T) {
	e := wrapError(CodeTimeout, "read deadline exceeded on fd 7", nil)
	require.ErrorIs(t, e, ErrTimeout)
	require.False(t, errors.Is(e, ErrEOF), "did not expect %v to match ErrEOF", e)
}

func TestErrorUnwrapsCause(t *testing.T) {
	cause := fmt.Errorf("epoll_wait: %w", errors.New("bad fd"))
	e := wrapError(CodeIOError, "poll failed", cause)
	require.ErrorIs(t, e, cause)
}

func TestCodeStringCoversAllSentinels(t *testing.T) {
	sentinels := []*Error{
		ErrEOF, ErrTimeout, ErrIOError, ErrCancelled, ErrBusy,
		ErrClosed, ErrBadResource, ErrInvalidArgument, ErrDNS, ErrSSL,
	}
	for _, s := range sentinels {
		require.NotEqual(t, "UNKNOWN", s.Code.String(), "Code %d has no String() mapping", s.Code)
	}
}
