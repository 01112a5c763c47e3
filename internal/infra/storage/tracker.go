/*
 * @Description: 分片上传会话追踪，供孤儿会话清理任务使用
 * @Author: 安知鱼
 * @Date: 2026-01-20 14:03:17
 * @LastEditTime: 2026-02-14 16:55:02
 * @LastEditors: 安知鱼
 */
package storage

import (
	"sync"
	"time"

	"github.com/anzhiyu-c/picnexus-server/internal/pkg/signer"
)

// MultipartSession 记录一个已初始化但尚未完成的分片上传会话。
// 进程内存中的记录：进程崩溃后残留在远端的会话只能靠下一次启动后的
// 定时清理覆盖不到，这是已知且接受的限制。
type MultipartSession struct {
	UploadID  string
	Key       string
	Host      string
	Region    string
	Creds     signer.Credentials
	CreatedAt time.Time
}

// SessionTracker 以并发安全的方式维护在途分片会话。
type SessionTracker struct {
	mu       sync.Mutex
	sessions map[string]MultipartSession // key 为 UploadID
}

// NewSessionTracker 创建一个空的会话追踪器。
func NewSessionTracker() *SessionTracker {
	return &SessionTracker{sessions: make(map[string]MultipartSession)}
}

// Track 记录一个刚初始化的会话。
func (t *SessionTracker) Track(s MultipartSession) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[s.UploadID] = s
}

// Untrack 移除一个会话（完成或已中止）。
func (t *SessionTracker) Untrack(uploadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, uploadID)
}

// Stale 返回创建时间早于 cutoff 的所有会话快照。
func (t *SessionTracker) Stale(cutoff time.Time) []MultipartSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	var stale []MultipartSession
	for _, s := range t.sessions {
		if s.CreatedAt.Before(cutoff) {
			stale = append(stale, s)
		}
	}
	return stale
}

// Len 返回当前在途会话数。
func (t *SessionTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
