package s3

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshotKey(t *testing.T) {
	require.Equal(t, "abc/42.jpg", SnapshotKey("abc", 42, "jpg"))
	require.Equal(t, "abc/42.json", SnapshotKey("abc", 42, ".json"))
}

func TestNewMinioClient(t *testing.T) {
	c, err := NewMinioClient("localhost:9000", "key", "secret", "snapshots")
	require.NoError(t, err)
	require.Equal(t, "snapshots", c.bucket)
}
