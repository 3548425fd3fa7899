package verify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGroups(t *testing.T) {
	t.Parallel()

	got := ParseGroups(" @a, https://t.me/+x ,,@a, -1001234 ")
	assert.Equal(t, []string{"@a", "https://t.me/+x", "-1001234"}, got)
	assert.Empty(t, ParseGroups(""))
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("REQUIRED_GROUPS", "@Team_Masters_TM,@EduMaster2008")
	t.Setenv("MEMBERSHIP_CHECK_TIMEOUT", "3s")
	t.Setenv("VERIFY_ALLOW_UNVERIFIABLE", "true")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"@Team_Masters_TM", "@EduMaster2008"}, cfg.Groups)
	assert.Equal(t, 3*time.Second, cfg.CheckTimeout)
	assert.True(t, cfg.AllowUnverifiable)
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	t.Setenv("REQUIRED_GROUPS", "")
	t.Setenv("MEMBERSHIP_CHECK_TIMEOUT", "-1s")
	_, err := LoadConfigFromEnv()
	assert.ErrorIs(t, err, ErrConfig)

	t.Setenv("MEMBERSHIP_CHECK_TIMEOUT", "")
	t.Setenv("VERIFY_ALLOW_UNVERIFIABLE", "maybe")
	_, err = LoadConfigFromEnv()
	assert.ErrorIs(t, err, ErrConfig)
}
