package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTokenPrefersExplicitToken(t *testing.T) {
	got, err := resolveToken(" abc ", "secret", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "abc", got)
}

func TestResolveTokenMintsFromSecret(t *testing.T) {
	got, err := resolveToken("", "secret", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(got, "."), "expected a jwt, got %q", got)
}

func TestResolveTokenRequiresSomething(t *testing.T) {
	_, err := resolveToken("", "", time.Now())
	assert.Error(t, err)
}

func TestDurationEnvFallsBackOnInvalid(t *testing.T) {
	t.Setenv("CARDBUILDER_TEST_SETTLE", "later")
	assert.Equal(t, time.Second, durationEnv("CARDBUILDER_TEST_SETTLE", time.Second))
	t.Setenv("CARDBUILDER_TEST_SETTLE", "40ms")
	assert.Equal(t, 40*time.Millisecond, durationEnv("CARDBUILDER_TEST_SETTLE", time.Second))
}
