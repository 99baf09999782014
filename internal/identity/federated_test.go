package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMaxAgeParsesCacheControl(t *testing.T) {
	assert.Equal(t, 7200*time.Second, maxAge("public, max-age=7200"))
	assert.Equal(t, 3600*time.Second, maxAge("max-age=3600, must-revalidate"))
}

func TestMaxAgeFallsBackOnMissingOrInvalidDirective(t *testing.T) {
	assert.Equal(t, defaultRefreshInterval, maxAge(""))
	assert.Equal(t, defaultRefreshInterval, maxAge("no-cache"))
	assert.Equal(t, defaultRefreshInterval, maxAge("max-age=not-a-number"))
	assert.Equal(t, defaultRefreshInterval, maxAge("max-age=-5"))
}
