package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyBuildersAreStableAndDistinct(t *testing.T) {
	keys := map[string]string{
		"user":         UserKey("u1"),
		"thread":       ThreadKey("c1", "u1", "t1"),
		"threadMsgs":   ThreadMessagesKey("th1"),
		"threadFiles":  ThreadFilesKey("th1"),
		"fileBytes":    FileBytesKey("f1"),
		"execArtifact": ExecArtifactKey("e1"),
		"execIndex":    ExecThreadIndexKey("th1"),
	}

	seen := make(map[string]string)
	for name, key := range keys {
		assert.NotEmpty(t, key)
		if prior, dup := seen[key]; dup {
			t.Fatalf("key builders %q and %q produced the same key %q", prior, name, key)
		}
		seen[key] = name
	}

	assert.Equal(t, UserKey("u1"), UserKey("u1"), "key builders must be deterministic")
}

func TestWriteQueueKeyIsAConstant(t *testing.T) {
	assert.Equal(t, "write:queue", WriteQueueKey)
}
