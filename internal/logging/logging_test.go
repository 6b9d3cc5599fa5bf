package logging_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ochat/internal/logging"
)

func TestNew_Levels(t *testing.T) {
	l, err := logging.New(logging.Config{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(-1))

	l, err = logging.New(logging.Config{File: filepath.Join(t.TempDir(), "ochat.log")})
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(-1))

	_, err = logging.New(logging.Config{Level: "loud"})
	assert.Error(t, err)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, logging.OrNop(nil))
}
