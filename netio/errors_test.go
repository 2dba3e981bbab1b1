// File: netio/errors_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package netio_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hioload/netmgr/netio"
)

func TestNewErrorKindOfRoundTrip(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := netio.NewError("connect", netio.ErrTimedOut, cause)

	kind, ok := netio.KindOf(err)
	require.True(t, ok)
	require.Equal(t, netio.ErrTimedOut, kind)
	require.ErrorIs(t, err, cause)
}

func TestKindOfFalseForPlainError(t *testing.T) {
	_, ok := netio.KindOf(errors.New("not a netio error"))
	require.False(t, ok)
}

func TestKindOfFalseForNil(t *testing.T) {
	_, ok := netio.KindOf(nil)
	require.False(t, ok)
}

func TestErrorAsFindsWrappedNetioError(t *testing.T) {
	root := errors.New("root cause")
	inner := netio.NewError("handshake", netio.ErrTLS, root)
	outer := netio.NewError("tlssocket", netio.ErrFailure, inner)

	require.ErrorIs(t, outer, root, "Unwrap chain must reach the root cause")

	var got *netio.Error
	require.True(t, errors.As(outer, &got))
	require.Equal(t, netio.ErrFailure, got.Kind, "As finds the outermost *Error in the chain")
}
