package core

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/RecoveryAshes/toutiao-repost/internal/models"
	"github.com/RecoveryAshes/toutiao-repost/internal/utils"
)

// unitFunc 处理一个扇出单元, 返回发现的条目数; 返回 skip(...) 表示跳过
type unitFunc[T any] func(ctx context.Context, unit T) (items int, err error)

// skipError 单元无需处理
type skipError struct {
	reason string
}

func (e *skipError) Error() string { return e.reason }

func skip(format string, args ...any) error {
	return &skipError{reason: fmt.Sprintf(format, args...)}
}

// fanOut 并发处理所有单元, 每个单元的错误和 panic 都转换为该单元的失败结果,
// 不影响其他单元。limit<=0 表示不限制, 实际并发由标签页池或信号量约束。
func fanOut[T any](ctx context.Context, report *models.RunReport, units []T, name func(T) string, limit int, progress bool, fn unitFunc[T]) {
	var bar interface{ Add(int) error }
	if progress && len(units) > 0 {
		bar = utils.NewProgressBar(len(units), string(report.Stage))
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, unit := range units {
		g.Go(func() error {
			result := runUnit(ctx, name(unit), unit, fn)
			mu.Lock()
			report.Record(result)
			if bar != nil {
				_ = bar.Add(1)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	report.Finish()
}

func runUnit[T any](ctx context.Context, name string, unit T, fn unitFunc[T]) (result models.UnitResult) {
	result.Unit = name
	defer func() {
		if r := recover(); r != nil {
			utils.Logger.Error().
				Str("unit", name).
				Str("stack", string(debug.Stack())).
				Msgf("单元处理panic: %v", r)
			result.Status = models.TaskStatusFailed
			result.Error = fmt.Sprintf("panic: %v", r)
			result.FinishedAt = time.Now()
		}
	}()

	items, err := fn(ctx, unit)
	result.Items = items
	result.FinishedAt = time.Now()

	var skipped *skipError
	switch {
	case err == nil:
		result.Status = models.TaskStatusCompleted
	case errors.As(err, &skipped):
		result.Status = models.TaskStatusSkipped
		result.Error = skipped.reason
	default:
		result.Status = models.TaskStatusFailed
		result.Error = err.Error()
		utils.Errorf("❌ %s 失败: %v", name, err)
	}
	return result
}
