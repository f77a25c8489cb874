package service_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"kinledger/pkg/platform/pagination"
)

func decodeCursor(t *testing.T, raw string) *pagination.Cursor {
	t.Helper()
	c, err := pagination.Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}
