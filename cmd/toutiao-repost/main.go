package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RecoveryAshes/toutiao-repost/internal/config"
	"github.com/RecoveryAshes/toutiao-repost/internal/models"
	"github.com/RecoveryAshes/toutiao-repost/internal/utils"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile string
	verbose    bool
	logLevel   string

	// HTTP头部参数
	headers        []string // 自定义HTTP请求头
	validateConfig bool     // 验证配置文件

	// 运行期间加载的配置
	appConfig *config.Config
)

// skipConfig 不需要加载配置的子命令
const skipConfig = "skip-config"

var rootCmd = &cobra.Command{
	Use:   "toutiao-repost",
	Short: "今日头条内容搜索、抓取与转发工具",
	Long: `toutiao-repost - 今日头条内容搜索、抓取、改写与转发工具

流水线:
  • search    按 分类/关键词 搜索文章或视频, 写入存根
  • detail    补全正文、互动数、作者与粉丝数
  • download  下载已获取链接的视频
  • login     校验或刷新账号cookies (需要短信验证码)
  • publish   改写并发布到每个账号

快速开始:
  toutiao-repost init
  toutiao-repost account add 13800138000
  toutiao-repost search --category 体育
  toutiao-repost detail
  toutiao-repost publish

HTTP头部:
  toutiao-repost search -H "User-Agent: MyBot/1.0"
  toutiao-repost --validate-config

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations[skipConfig] == "true" || cmd.Name() == "help" {
			return nil
		}
		// 只显示帮助时不需要配置
		if cmd == cmd.Root() && !validateConfig {
			return nil
		}

		cfg, err := config.LoadConfig(configFile)
		if err != nil {
			return err
		}

		logConfig := cfg.LogConfig()
		// 命令行参数覆盖配置文件
		if logLevel != "" {
			logConfig.Level = logLevel
		}
		if verbose && logLevel == "" {
			logConfig.Level = "debug"
		}
		if err := utils.InitLogger(logConfig); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}

		appConfig = cfg
		utils.Debugf("使用配置文件: %s", cfg.File)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if !validateConfig {
			return cmd.Help()
		}

		utils.Info("🔍 验证配置...")
		headerManager, err := config.NewHeaderManager(appConfig.Headers, headers)
		if err != nil {
			return fmt.Errorf("创建HTTP头部管理器失败: %w", err)
		}
		if err := headerManager.Validate(); err != nil {
			return fmt.Errorf("配置验证失败: %w", err)
		}
		if _, err := config.LoadKeywords(appConfig.KeywordsFile); err != nil {
			return fmt.Errorf("配置验证失败: %w", err)
		}

		// 显示合并后的头部(脱敏)
		safeHeaders := headerManager.GetSafeHeaders()
		utils.Info("✅ 配置验证通过!")
		utils.Infof("当前有效的HTTP头部 (%d个):", len(safeHeaders))
		for name, value := range safeHeaders {
			utils.Infof("  %s: %s", name, value)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "显示版本信息",
	Annotations: map[string]string{skipConfig: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("toutiao-repost %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "详细输出模式")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")

	// HTTP头部参数
	rootCmd.PersistentFlags().StringSliceVarP(&headers, "header", "H", []string{}, "自定义HTTP头部,格式: 'Name: Value',可多次指定")
	rootCmd.Flags().BoolVar(&validateConfig, "validate-config", false, "验证配置文件正确性")

	rootCmd.AddCommand(versionCmd)
	addCommands(rootCmd)
}

func main() {
	// Ctrl+C 取消正在进行的阶段, 已完成的单元照常写入报告
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		var cfgErr *models.ConfigError
		if errors.As(err, &cfgErr) {
			fmt.Fprintln(os.Stderr, "提示: 运行 toutiao-repost init 生成配置模板")
		}
		stop()
		os.Exit(1)
	}
}
