package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_Levels(t *testing.T) {
	for level, want := range map[string]bool{"debug": true, "info": false, "": false, "bogus": false} {
		l, err := New(level, "console")
		require.NoError(t, err)
		assert.Equal(t, want, l.Core().Enabled(zap.DebugLevel), "level %q", level)
	}
}

func TestNew_RejectsUnknownEncoding(t *testing.T) {
	_, err := New("info", "xml")
	assert.Error(t, err)
}
