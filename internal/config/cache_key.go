package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// VersionContentKey returns the cache key for an exam version's content document
func (r *CacheKeyStruct) VersionContentKey(versionID int64) string {
	return fmt.Sprintf("version:%d:content", versionID)
}

// RegistrationSnapshotKey returns the cache key for the latest answers of a registration
func (r *CacheKeyStruct) RegistrationSnapshotKey(registrationID int64) string {
	return fmt.Sprintf("registration:%d:snapshot", registrationID)
}

// RegistrationLockoutKey returns the cache key flagging a registration as locked out
func (r *CacheKeyStruct) RegistrationLockoutKey(registrationID int64) string {
	return fmt.Sprintf("registration:%d:lockout", registrationID)
}

// ExamMessagesChannel returns the Redis PubSub channel carrying an exam's proctor messages
func (r *CacheKeyStruct) ExamMessagesChannel(examID string) string {
	return fmt.Sprintf("exam:%s:messages", examID)
}

var CacheKey = NewCacheKeyStruct()
