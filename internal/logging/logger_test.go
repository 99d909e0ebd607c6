package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	for _, dev := range []bool{true, false} {
		logger, err := New(dev, "siterag")
		require.NoError(t, err)
		require.NotNil(t, logger)
		logger.Info("logger ready")
		Sync(logger)
	}
}

func TestNew_NoServiceField(t *testing.T) {
	t.Parallel()

	logger, err := New(false, "")
	require.NoError(t, err)
	require.NotNil(t, logger)
}
