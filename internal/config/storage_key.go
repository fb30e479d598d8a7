package config

import "fmt"

// StorageKeyStruct builds the durable key-value entries the session controller
// persists per (student, exam) pair. Keys are namespaced so several exams can
// coexist in one store.
type StorageKeyStruct struct{}

func NewStorageKeyStruct() *StorageKeyStruct {
	return &StorageKeyStruct{}
}

// SessionStartKey returns the key holding the attempt's start instant (unix seconds).
func (r *StorageKeyStruct) SessionStartKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:session_start", studentID, examID)
}

// RemainingSecondsKey returns the key holding the last persisted countdown snapshot.
func (r *StorageKeyStruct) RemainingSecondsKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:remaining_seconds", studentID, examID)
}

// SessionLockKey returns the key guarding against a second concurrent
// controller for the same attempt (two tabs on one exam).
func (r *StorageKeyStruct) SessionLockKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:lock", studentID, examID)
}

var StorageKey = NewStorageKeyStruct()
