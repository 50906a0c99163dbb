package blob_test

import (
	"testing"

	"github.com/haakonsb/carcounter/internal/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocation(t *testing.T) {
	bucket, key, err := blob.ParseLocation("s3://media/videos/123/clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, "media", bucket)
	assert.Equal(t, "videos/123/clip.mp4", key)
}

func TestParseLocation_Invalid(t *testing.T) {
	cases := []string{
		"",
		"videos/123/clip.mp4",
		"http://media/videos/clip.mp4",
		"s3://",
		"s3://bucket-only",
		"s3:///no-bucket",
	}
	for _, loc := range cases {
		_, _, err := blob.ParseLocation(loc)
		assert.ErrorIs(t, err, blob.ErrInvalidLocation, "location %q", loc)
	}
}

func TestFormatLocation_RoundTrip(t *testing.T) {
	loc := blob.FormatLocation("media", "frames/42/snap_001.jpg")
	assert.Equal(t, "s3://media/frames/42/snap_001.jpg", loc)

	bucket, key, err := blob.ParseLocation(loc)
	require.NoError(t, err)
	assert.Equal(t, "media", bucket)
	assert.Equal(t, "frames/42/snap_001.jpg", key)
}
