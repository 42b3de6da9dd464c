package config

import (
	"strings"
	"testing"
)

func TestHeaderManager_GetMergedHeaders(t *testing.T) {
	t.Run("默认头部存在", func(t *testing.T) {
		hm, err := NewHeaderManager(nil, nil)
		if err != nil {
			t.Fatalf("创建HeaderManager失败: %v", err)
		}

		headers := hm.GetMergedHeaders()
		if headers.Get("User-Agent") == "" {
			t.Error("期望默认User-Agent存在")
		}
		if headers.Get("Referer") != DefaultReferer {
			t.Errorf("期望默认Referer=%s, 实际=%s", DefaultReferer, headers.Get("Referer"))
		}
		if headers.Get("Accept-Language") == "" {
			t.Error("期望默认Accept-Language存在")
		}
	})

	t.Run("优先级 默认 < 配置 < 命令行", func(t *testing.T) {
		// viper 读出来的键名是小写
		configHeaders := map[string]string{
			"x-config":   "from-config",
			"user-agent": "config-agent",
			"referer":    "https://mp.toutiao.com/",
		}
		cliHeaders := []string{
			"X-CLI: from-cli",
			"User-Agent: cli-agent",
		}

		hm, err := NewHeaderManager(configHeaders, cliHeaders)
		if err != nil {
			t.Fatalf("创建HeaderManager失败: %v", err)
		}

		merged := hm.GetMergedHeaders()
		if val := merged.Get("User-Agent"); val != "cli-agent" {
			t.Errorf("CLI头部应该覆盖配置文件, 得到: %s", val)
		}
		if val := merged.Get("Referer"); val != "https://mp.toutiao.com/" {
			t.Errorf("配置文件应该覆盖默认, 得到: %s", val)
		}
		if merged.Get("X-Config") == "" {
			t.Error("应该包含配置文件中的头部")
		}
		if merged.Get("X-Cli") == "" {
			t.Error("应该包含CLI中的头部")
		}
	})
}

func TestHeaderManager_GetSafeHeaders(t *testing.T) {
	cliHeaders := []string{
		"User-Agent: CustomBot/1.0",
		"Authorization: Bearer secret-token-12345",
		"X-API-Key: api-key-67890",
	}

	hm, err := NewHeaderManager(nil, cliHeaders)
	if err != nil {
		t.Fatalf("创建HeaderManager失败: %v", err)
	}

	safeHeaders := hm.GetSafeHeaders()
	if safeHeaders["User-Agent"] != "CustomBot/1.0" {
		t.Error("普通头部不应该被脱敏")
	}
	if safeHeaders["Authorization"] != "Bearer ***" {
		t.Errorf("期望Authorization='Bearer ***', 实际='%s'", safeHeaders["Authorization"])
	}
	if safeHeaders["X-Api-Key"] == "api-key-67890" {
		t.Error("X-API-Key应该被脱敏")
	}
}

func TestHeaderManager_GetHeaders(t *testing.T) {
	t.Run("非法命令行参数返回错误", func(t *testing.T) {
		if _, err := NewHeaderManager(nil, []string{"InvalidFormat"}); err == nil {
			t.Error("期望返回错误, 但成功了")
		}
	})

	t.Run("禁止头部返回验证错误", func(t *testing.T) {
		hm, err := NewHeaderManager(nil, []string{"Host: example.com"})
		if err != nil {
			t.Fatalf("创建HeaderManager失败: %v", err)
		}
		if _, err := hm.GetHeaders(); err == nil {
			t.Error("期望返回验证错误, 但成功了")
		}
	})

	t.Run("配置文件中的禁止头部同样被拒绝", func(t *testing.T) {
		hm, err := NewHeaderManager(map[string]string{"content-length": "10"}, nil)
		if err != nil {
			t.Fatalf("创建HeaderManager失败: %v", err)
		}
		if _, err := hm.GetHeaders(); err == nil {
			t.Error("期望返回验证错误, 但成功了")
		}
	})

	t.Run("账号cookie与非法Referer不能全局配置", func(t *testing.T) {
		hm, err := NewHeaderManager(map[string]string{
			"cookie":  "sessionid=abc",
			"referer": "toutiao.com",
		}, nil)
		if err != nil {
			t.Fatalf("创建HeaderManager失败: %v", err)
		}
		_, err = hm.GetHeaders()
		if err == nil {
			t.Fatal("期望返回验证错误, 但成功了")
		}
		for _, name := range []string{"[Cookie]", "[Referer]"} {
			if !strings.Contains(err.Error(), name) {
				t.Errorf("错误信息应包含 %s: %v", name, err)
			}
		}
	})

	t.Run("成功场景", func(t *testing.T) {
		hm, err := NewHeaderManager(nil, []string{"User-Agent: TestBot/1.0", "X-Custom: test-value"})
		if err != nil {
			t.Fatalf("创建HeaderManager失败: %v", err)
		}
		headers, err := hm.GetHeaders()
		if err != nil {
			t.Fatalf("GetHeaders失败: %v", err)
		}
		if headers.Get("User-Agent") != "TestBot/1.0" || headers.Get("X-Custom") != "test-value" {
			t.Errorf("头部未正确设置: %v", headers)
		}
	})
}
