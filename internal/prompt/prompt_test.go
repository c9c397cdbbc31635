package prompt

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkspace(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "kagent-prompt-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func TestLoader_MissingFileFallsBackToDefault(t *testing.T) {
	dir := newTestWorkspace(t)

	l, err := NewLoader(dir)
	require.NoError(t, err)
	defer l.Stop()

	assert.Equal(t, defaultPrompt, l.Current())
}

func TestLoader_ReadsPromptFile(t *testing.T) {
	dir := newTestWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, PromptFileName), []byte("You are a pirate.\n"), 0644))

	l, err := NewLoader(dir)
	require.NoError(t, err)
	defer l.Stop()

	assert.Equal(t, "You are a pirate.", l.Current())
}

func TestLoader_EmptyFileFallsBackToDefault(t *testing.T) {
	dir := newTestWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, PromptFileName), []byte("   \n\n"), 0644))

	l, err := NewLoader(dir)
	require.NoError(t, err)
	defer l.Stop()

	assert.Equal(t, defaultPrompt, l.Current())
}

func TestLoader_ReloadFiresOnChange(t *testing.T) {
	dir := newTestWorkspace(t)
	path := filepath.Join(dir, PromptFileName)
	require.NoError(t, os.WriteFile(path, []byte("first prompt"), 0644))

	l, err := NewLoader(dir)
	require.NoError(t, err)
	defer l.Stop()

	notified := make(chan string, 1)
	l.OnChange(func(text string) { notified <- text })

	require.NoError(t, os.WriteFile(path, []byte("second prompt"), 0644))
	l.reload()

	select {
	case text := <-notified:
		assert.Equal(t, "second prompt", text)
	default:
		t.Fatal("onChange was not fired")
	}
	assert.Equal(t, "second prompt", l.Current())
}

func TestLoader_ReloadSkipsCallbackWhenUnchanged(t *testing.T) {
	dir := newTestWorkspace(t)
	path := filepath.Join(dir, PromptFileName)
	require.NoError(t, os.WriteFile(path, []byte("stable prompt"), 0644))

	l, err := NewLoader(dir)
	require.NoError(t, err)
	defer l.Stop()

	fired := false
	l.OnChange(func(string) { fired = true })

	l.reload()
	assert.False(t, fired)
}

func TestLoader_WatchPicksUpEdit(t *testing.T) {
	dir := newTestWorkspace(t)
	path := filepath.Join(dir, PromptFileName)
	require.NoError(t, os.WriteFile(path, []byte("before"), 0644))

	l, err := NewLoader(dir)
	require.NoError(t, err)
	defer l.Stop()
	require.NoError(t, l.Watch())

	require.NoError(t, os.WriteFile(path, []byte("after"), 0644))

	assert.Eventually(t, func() bool {
		return l.Current() == "after"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestLoader_StopIsIdempotent(t *testing.T) {
	dir := newTestWorkspace(t)

	l, err := NewLoader(dir)
	require.NoError(t, err)
	require.NoError(t, l.Watch())

	assert.NoError(t, l.Stop())
	assert.NoError(t, l.Stop())
}
