package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed templates/config.yaml
var configTemplate string

//go:embed templates/keywords.yaml
var keywordsTemplate string

// WriteTemplates 在 dir 下生成配置文件模板, 已存在的文件不覆盖(除非 force)
// 返回实际写入的文件
func WriteTemplates(dir string, force bool) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("无法创建配置目录 [%s]: %w", dir, err)
	}

	var written []string
	for name, content := range map[string]string{
		"config.yaml":   configTemplate,
		"keywords.yaml": keywordsTemplate,
	} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil && !force {
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return written, fmt.Errorf("无法生成配置文件 [%s]: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}
