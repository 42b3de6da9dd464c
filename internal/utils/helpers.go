package utils

import (
	"bufio"
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"time"
)

// ReadLinesFromFile 按行读取文件, 跳过空行和#注释, validate 不通过的行被跳过
func ReadLinesFromFile(path string, validate func(string) error) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开文件失败: %w", err)
	}
	defer file.Close()

	lines := make([]string, 0)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if validate != nil {
			if err := validate(line); err != nil {
				Warnf("跳过无效行 (行 %d): %s - %v", lineNum, line, err)
				continue
			}
		}

		lines = append(lines, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}

	if len(lines) == 0 {
		return nil, fmt.Errorf("文件 %s 中没有有效的行", path)
	}

	Infof("从文件加载了 %d 行", len(lines))
	return lines, nil
}

// Pacer 导航之后的拟人化随机停顿
type Pacer struct {
	Min time.Duration
	Max time.Duration
}

// NewPacer 创建停顿器, max 小于 min 时取 min
func NewPacer(min, max time.Duration) Pacer {
	if max < min {
		max = min
	}
	return Pacer{Min: min, Max: max}
}

// Delay 在 [Min, Max] 中均匀采样
func (p Pacer) Delay() time.Duration {
	if p.Max <= p.Min {
		return p.Min
	}
	return p.Min + time.Duration(rand.Int64N(int64(p.Max-p.Min)+1))
}

// Sleep 停顿一次, 可被 ctx 打断
func (p Pacer) Sleep(ctx context.Context) error {
	d := p.Delay()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Shuffle 原地打乱, 扇出前使用以避免固定的访问顺序
func Shuffle[T any](s []T) {
	rand.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
}
