package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RecoveryAshes/toutiao-repost/internal/config"
	"github.com/RecoveryAshes/toutiao-repost/internal/models"
	"github.com/RecoveryAshes/toutiao-repost/internal/store"
	"github.com/RecoveryAshes/toutiao-repost/internal/utils"
)

// 子命令参数
var (
	initDir   string
	initForce bool

	category  string
	keyword   string
	kind      string
	pages     int
	phone     string
	noRewrite bool
	phoneFile string
)

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&category, "category", "", "只处理该分类")
	cmd.Flags().StringVarP(&keyword, "keyword", "k", "", "只处理该关键词")
}

// filter 命令行筛选条件
func filter() store.Filter {
	return store.Filter{Kind: models.Kind(kind), Category: category, Keyword: keyword}
}

// withApp 创建组件后运行 fn, 结束时释放
func withApp(cmd *cobra.Command, n needs, fn func(a *app) error) error {
	a, err := newApp(cmd.Context(), appConfig, n)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

var initCmd = &cobra.Command{
	Use:         "init",
	Short:       "生成配置文件模板",
	Annotations: map[string]string{skipConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		written, err := config.WriteTemplates(initDir, initForce)
		if err != nil {
			return err
		}
		if len(written) == 0 {
			fmt.Printf("配置文件已存在于 %s, 使用 --force 覆盖\n", initDir)
			return nil
		}
		for _, p := range written {
			fmt.Printf("✅ 已生成 %s\n", p)
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "按分类/关键词搜索, 写入存根",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateSearchFlags(kind, pages); err != nil {
			return err
		}
		return withApp(cmd, needs{keywords: true, pages: true}, func(a *app) error {
			p, err := a.pipeline(needs{keywords: true})
			if err != nil {
				return err
			}
			if pages > 0 {
				p.Options.Pages = pages
			}
			if kind != "" {
				p.Options.Kinds = []models.Kind{models.Kind(kind)}
			}
			_, err = p.RunSearch(cmd.Context(), category, keyword)
			return err
		})
	},
}

var detailCmd = &cobra.Command{
	Use:   "detail",
	Short: "补全存根的详情与作者信息",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateKind(kind); err != nil {
			return err
		}
		return withApp(cmd, needs{pages: true}, func(a *app) error {
			p, err := a.pipeline(needs{})
			if err != nil {
				return err
			}
			_, err = p.RunDetail(cmd.Context(), filter())
			return err
		})
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "下载视频",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, needs{}, func(a *app) error {
			p, err := a.pipeline(needs{})
			if err != nil {
				return err
			}
			_, err = p.RunDownload(cmd.Context(), filter())
			return err
		})
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "校验或刷新账号cookies",
	RunE: func(cmd *cobra.Command, args []string) error {
		if phone != "" {
			if err := models.ValidatePhone(phone); err != nil {
				return err
			}
		}
		return withApp(cmd, needs{sessions: true}, func(a *app) error {
			p, err := a.pipeline(needs{sessions: true})
			if err != nil {
				return err
			}
			_, err = p.RunLogin(cmd.Context(), phone)
			return err
		})
	},
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "账号管理",
}

var accountAddCmd = &cobra.Command{
	Use:   "add [手机号]...",
	Short: "添加账号 (不登录, 首次发布或 login 时输入验证码)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if phoneFile != "" {
			lines, err := utils.ReadLinesFromFile(phoneFile, models.ValidatePhone)
			if err != nil {
				return err
			}
			args = append(args, lines...)
		}
		if err := ValidatePhones(args); err != nil {
			return err
		}
		return withApp(cmd, needs{}, func(a *app) error {
			for _, ph := range args {
				added, err := a.store.InsertAccount(cmd.Context(), models.Account{Phone: ph})
				if err != nil {
					return err
				}
				if added {
					utils.Infof("✅ 已添加账号 %s", ph)
				} else {
					utils.Infof("账号 %s 已存在", ph)
				}
			}
			return nil
		})
	},
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出账号及cookies概况",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, needs{}, func(a *app) error {
			accounts, err := a.store.Accounts(cmd.Context())
			if err != nil {
				return err
			}
			for _, acc := range accounts {
				fmt.Printf("%s  cookies: %s\n", acc.Phone, utils.SummarizeCookies(acc.Cookies))
			}
			return nil
		})
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "改写并发布文章和视频到所有账号",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateKind(kind); err != nil {
			return err
		}
		if phone != "" {
			if err := models.ValidatePhone(phone); err != nil {
				return err
			}
		}
		return withApp(cmd, needs{sessions: true}, func(a *app) error {
			p, err := a.pipeline(needs{sessions: true})
			if err != nil {
				return err
			}
			_, err = p.RunPublish(cmd.Context(), filter(), phone, !noRewrite)
			return err
		})
	},
}

func addCommands(root *cobra.Command) {
	initCmd.Flags().StringVar(&initDir, "dir", "configs", "配置文件目录")
	initCmd.Flags().BoolVar(&initForce, "force", false, "覆盖已存在的文件")

	addFilterFlags(searchCmd)
	searchCmd.Flags().StringVar(&kind, "kind", "", "内容类型 (article|video), 默认使用配置")
	searchCmd.Flags().IntVarP(&pages, "pages", "p", 0, "每个关键词的页数, 默认使用配置")

	addFilterFlags(detailCmd)
	detailCmd.Flags().StringVar(&kind, "kind", "", "内容类型 (article|video)")

	addFilterFlags(downloadCmd)

	loginCmd.Flags().StringVar(&phone, "phone", "", "只处理该账号")

	addFilterFlags(publishCmd)
	publishCmd.Flags().StringVar(&kind, "kind", "", "只发布该类型 (article|video), 默认使用配置")
	publishCmd.Flags().StringVar(&phone, "phone", "", "只用该账号发布")
	publishCmd.Flags().BoolVar(&noRewrite, "no-rewrite", false, "不调用改写服务")

	accountAddCmd.Flags().StringVarP(&phoneFile, "file", "f", "", "从文件读取手机号 (每行一个)")

	accountCmd.AddCommand(accountAddCmd, accountListCmd)
	root.AddCommand(initCmd, doctorCmd, searchCmd, detailCmd, downloadCmd, loginCmd, accountCmd, publishCmd)
}
