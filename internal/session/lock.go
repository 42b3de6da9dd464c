package session

import (
	"context"
	"fmt"
	"sync"
)

// LockTable 按手机号的互斥锁
// 同一账号的调用方排队, 不同账号互不影响
type LockTable struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLockTable 创建锁表, 进程内共享一个
func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[string]chan struct{})}
}

func (t *LockTable) slot(phone string) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.locks[phone]
	if !ok {
		ch = make(chan struct{}, 1)
		t.locks[phone] = ch
	}
	return ch
}

// Lock 获取账号锁, 返回的 unlock 可重复调用
func (t *LockTable) Lock(ctx context.Context, phone string) (func(), error) {
	ch := t.slot(phone)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("等待账号 %s 的锁失败: %w", phone, ctx.Err())
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}
