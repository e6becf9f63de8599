package gcs

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
)

func TestStorage_RequiresBucket(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, "archive", config.StorageConfig{Type: Type}, option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.Equal(t, "archive", s.Name())
	assert.Equal(t, Type, s.Type())

	err = s.Upload(ctx, "", "a.txt", strings.NewReader("a"), "text/plain")
	assert.ErrorContains(t, err, "bucket_name is not set")

	bucket, err := s.bucketOf("explicit")
	require.NoError(t, err)
	assert.Equal(t, "explicit", bucket)
}
