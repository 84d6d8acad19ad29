package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPublisher_Publish(t *testing.T) {
	src := filepath.Join(t.TempDir(), "final.mp4")
	require.NoError(t, os.WriteFile(src, []byte("video bytes"), 0600))

	p, err := NewLocalPublisher(t.TempDir())
	require.NoError(t, err)

	url, err := p.Publish(context.Background(), "job-1", src)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(p.Dir(), "job-1", "final.mp4"), url)
	data, err := os.ReadFile(url)
	require.NoError(t, err)
	assert.Equal(t, "video bytes", string(data))
}

func TestLocalPublisher_MissingSource(t *testing.T) {
	p, err := NewLocalPublisher(t.TempDir())
	require.NoError(t, err)

	_, err = p.Publish(context.Background(), "job-1", filepath.Join(t.TempDir(), "missing.mp4"))
	assert.Error(t, err)
}

func TestLocalPublisher_CancelledContext(t *testing.T) {
	p, err := NewLocalPublisher(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.Publish(ctx, "job-1", "final.mp4")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalPublisher_DefaultDir(t *testing.T) {
	p, err := NewLocalPublisher("")
	require.NoError(t, err)
	assert.NotEmpty(t, p.Dir())
}
