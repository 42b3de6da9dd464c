package main

import (
	"errors"
	"fmt"

	"github.com/RecoveryAshes/toutiao-repost/internal/models"
)

// ValidateKind 验证内容类型, 空表示使用配置
func ValidateKind(kind string) error {
	if kind == "" {
		return nil
	}
	if _, err := models.ParseKind(kind); err != nil {
		return err
	}
	return nil
}

// ValidateSearchFlags 验证 search 命令的参数
func ValidateSearchFlags(kind string, pages int) error {
	if err := ValidateKind(kind); err != nil {
		return err
	}
	// 0 表示使用配置
	if pages < 0 || pages > 50 {
		return fmt.Errorf("搜索页数必须在1-50之间,当前值: %d", pages)
	}
	return nil
}

// ValidatePhones 验证手机号列表, 重复的手机号也视为错误
func ValidatePhones(phones []string) error {
	if len(phones) == 0 {
		return fmt.Errorf("至少需要一个手机号")
	}
	seen := make(map[string]bool, len(phones))
	var errs []error
	for _, p := range phones {
		if seen[p] {
			errs = append(errs, fmt.Errorf("手机号重复: %s", p))
			continue
		}
		seen[p] = true
		if err := models.ValidatePhone(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
