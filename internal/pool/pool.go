// Package pool 提供有界、可复用的昂贵句柄池(浏览器标签页等)。
//
// 容量在构造时固定; Acquire 在池耗尽时阻塞, Release 唤醒一个等待者。
// 任何时刻 借出数 + 空闲数 == 容量。
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrClosed 池已关闭
	ErrClosed = errors.New("资源池已关闭")

	// ErrForeignHandle 归还了不属于本池或未借出的句柄, 属于程序缺陷
	ErrForeignHandle = errors.New("归还的句柄不属于该资源池或未被借出")
)

// Pool 有界句柄池
type Pool[T comparable] struct {
	available chan T

	mu       sync.Mutex
	borrowed map[T]bool // 成员 -> 是否已借出
	closed   bool
	closeFn  func(T) error
	done     chan struct{}
}

// New 用给定句柄创建池, 容量为 len(handles)
// 重复的句柄是程序缺陷, 直接 panic
func New[T comparable](handles []T) *Pool[T] {
	p := &Pool[T]{
		available: make(chan T, len(handles)),
		borrowed:  make(map[T]bool, len(handles)),
		done:      make(chan struct{}),
	}
	for _, h := range handles {
		if _, dup := p.borrowed[h]; dup {
			panic(fmt.Sprintf("资源池句柄重复: %v", h))
		}
		p.borrowed[h] = false
		p.available <- h
	}
	return p
}

// Acquire 借出一个句柄, 池耗尽时阻塞直到有归还或 ctx 结束
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return zero, ErrClosed
	}

	select {
	case h := <-p.available:
		p.mu.Lock()
		p.borrowed[h] = true
		p.mu.Unlock()
		return h, nil
	case <-p.done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Release 归还句柄
// 归还外来句柄或重复归还会 panic(ErrForeignHandle)
func (p *Pool[T]) Release(h T) {
	p.mu.Lock()
	out, member := p.borrowed[h]
	if !member || !out {
		p.mu.Unlock()
		panic(fmt.Errorf("%w: %v", ErrForeignHandle, h))
	}
	p.borrowed[h] = false

	if p.closed {
		closeFn := p.closeFn
		p.mu.Unlock()
		if closeFn != nil {
			_ = closeFn(h)
		}
		return
	}

	// 缓冲区等于容量, 这里不会阻塞
	p.available <- h
	p.mu.Unlock()
}

// With 借出句柄执行 fn, 任何退出路径(包括 panic)都会归还
func (p *Pool[T]) With(ctx context.Context, fn func(T) error) error {
	h, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(h)
	return fn(h)
}

// Cap 池容量
func (p *Pool[T]) Cap() int {
	return cap(p.available)
}

// Available 当前空闲句柄数
func (p *Pool[T]) Available() int {
	return len(p.available)
}

// InUse 当前借出句柄数
func (p *Pool[T]) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, out := range p.borrowed {
		if out {
			n++
		}
	}
	return n
}

// Close 关闭池: 空闲句柄立即用 closeFn 关闭, 借出的句柄在归还时关闭
func (p *Pool[T]) Close(closeFn func(T) error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.closeFn = closeFn
	close(p.done)

	idle := make([]T, 0, len(p.available))
	for len(p.available) > 0 {
		idle = append(idle, <-p.available)
	}
	p.mu.Unlock()

	var errs []error
	if closeFn != nil {
		for _, h := range idle {
			if err := closeFn(h); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
