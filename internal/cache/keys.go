package cache

import "fmt"

// Key builders for the gateway's cache surfaces: user, thread, thread
// message list, thread file list, file bytes, exec artifacts and their
// per-thread index, and the write queue.

func UserKey(userID string) string { return fmt.Sprintf("user:%s", userID) }

func ThreadKey(chatID, userID, topicID string) string {
	return fmt.Sprintf("thread:%s:%s:%s", chatID, userID, topicID)
}

func ThreadMessagesKey(threadID string) string { return fmt.Sprintf("thread:%s:messages", threadID) }

func ThreadFilesKey(threadID string) string { return fmt.Sprintf("thread:%s:files", threadID) }

func FileBytesKey(providerFileID string) string { return fmt.Sprintf("file:%s:bytes", providerFileID) }

func ExecArtifactKey(tempID string) string { return fmt.Sprintf("exec:%s", tempID) }

func ExecThreadIndexKey(threadID string) string { return fmt.Sprintf("exec:thread:%s", threadID) }

const WriteQueueKey = "write:queue"
