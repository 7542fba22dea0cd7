package config

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type StorageKeyStruct struct{}

func NewStorageKeyStruct() *StorageKeyStruct {
	return &StorageKeyStruct{}
}

// OfflineQueueKey returns the device-wide key holding every queued batch.
func (r *StorageKeyStruct) OfflineQueueKey() string {
	return "exstem:offline_queue"
}

// AnswerBackupKey returns the key mirroring a session's pending changes.
func (r *StorageKeyStruct) AnswerBackupKey(scheduleID uuid.UUID, examineeID int) string {
	return fmt.Sprintf("exstem:examinee:%d:schedule:%s:backup", examineeID, scheduleID)
}

// AnswerBackupPrefix returns the prefix shared by all backup keys.
func (r *StorageKeyStruct) AnswerBackupPrefix() string {
	return "exstem:examinee:"
}

// IsAnswerBackupKey reports whether key was produced by AnswerBackupKey.
func (r *StorageKeyStruct) IsAnswerBackupKey(key string) bool {
	return strings.HasPrefix(key, r.AnswerBackupPrefix()) && strings.HasSuffix(key, ":backup")
}

var StorageKey = NewStorageKeyStruct()

type ChannelKeyStruct struct{}

// ExamMonitorChannel returns the Redis PubSub channel name for a schedule's live proctor feed.
func (r *ChannelKeyStruct) ExamMonitorChannel(scheduleID uuid.UUID) string {
	return fmt.Sprintf("exam:%s:monitor", scheduleID)
}

var ChannelKey = &ChannelKeyStruct{}
