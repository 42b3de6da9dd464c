package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/RecoveryAshes/toutiao-repost/internal/pool"
	"github.com/RecoveryAshes/toutiao-repost/internal/utils"
)

// PagePool 标签页池
// 职责: 启动时一次性创建固定数量的标签页, 供搜索和详情阶段借用
type PagePool struct {
	*pool.Pool[Page]
}

// NewPagePool 创建 size 个标签页组成的池
// monitor 不为空时, size 会被主机资源上限截断; 中途资源不足时以已创建的数量为准
func NewPagePool(ctx context.Context, b Browser, size int, monitor *ResourceMonitor) (*PagePool, error) {
	if monitor != nil {
		if maxPages := monitor.CalculateMaxPages(); size > maxPages {
			utils.Warnf("配置的标签页数 %d 超过主机上限, 调整为 %d", size, maxPages)
			size = maxPages
		}
	}
	if size < 1 {
		size = 1
	}

	pages := make([]Page, 0, size)
	for i := 0; i < size; i++ {
		if monitor != nil && i > 0 {
			if ok, reason := monitor.CheckResourceAvailability(); !ok {
				utils.Warnf("资源不足,停止创建标签页: %s", reason)
				break
			}
		}
		p, err := b.NewPage(ctx)
		if err != nil {
			closeAll(pages)
			return nil, fmt.Errorf("创建第%d个标签页失败: %w", i+1, err)
		}
		pages = append(pages, p)
	}

	utils.Infof("标签页池已就绪: %d 个标签页", len(pages))
	return &PagePool{Pool: pool.New(pages)}, nil
}

// Close 关闭池中所有标签页
func (pp *PagePool) Close() error {
	err := pp.Pool.Close(func(p Page) error { return p.Close() })
	if err != nil {
		utils.Warnf("关闭标签页失败: %v", err)
	}
	return err
}

func closeAll(pages []Page) {
	var errs []error
	for _, p := range pages {
		errs = append(errs, p.Close())
	}
	if err := errors.Join(errs...); err != nil {
		utils.Warnf("关闭标签页失败: %v", err)
	}
}
