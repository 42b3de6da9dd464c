// Package store 是条目与账号的持久化层。
//
// 每个方法都是一次独立提交, 流水线各阶段之间不共享事务:
// 进程中途崩溃最多让条目停留在存根状态, 不会留下写了一半的行。
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/RecoveryAshes/toutiao-repost/internal/models"
)

var (
	// ErrEmptyFilter 分类和关键词都为空
	ErrEmptyFilter = errors.New("筛选条件至少需要分类或关键词之一")

	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("记录不存在")
)

// Filter 条目筛选条件, Category 与 Keyword 至少填一个
type Filter struct {
	Kind     models.Kind
	Category string
	Keyword  string
}

// Store 存储契约
type Store interface {
	// InsertItem 按 id 插入, 已存在时忽略并返回 false (先写入者为准)
	InsertItem(ctx context.Context, item models.Item) (bool, error)
	// UpdateItem 合并更新: 空字符串、-1、nil 时间表示保持原值
	UpdateItem(ctx context.Context, item models.Item) (bool, error)
	Item(ctx context.Context, id string) (models.Item, error)
	Items(ctx context.Context, kind models.Kind) ([]models.Item, error)
	ItemsBy(ctx context.Context, filter Filter) ([]models.Item, error)

	// InsertAccount 幂等插入账号
	InsertAccount(ctx context.Context, account models.Account) (bool, error)
	Account(ctx context.Context, phone string) (models.Account, error)
	Accounts(ctx context.Context) ([]models.Account, error)
	// ReplaceCookies 整体替换账号的cookies
	ReplaceCookies(ctx context.Context, phone string, cookies []models.Cookie) error

	Close() error
}

// Open 按驱动名打开存储: sqlite | postgres
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", "sqlite":
		return OpenSQLite(ctx, dsn)
	case "postgres", "pgx":
		return OpenPostgres(ctx, dsn)
	}
	return nil, fmt.Errorf("不支持的存储驱动: %s (有效值: sqlite, postgres)", driver)
}

// 哨兵值到 NULL 的映射, 配合 COALESCE(?, col)

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullCount(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n >= 0}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (models.Item, error) {
	var (
		item       models.Item
		kind       string
		uploadTime sql.NullTime
		like       int64
		comment    int64
		collect    int64
		view       int64
		fans       int64
	)
	err := row.Scan(
		&item.ID, &kind, &item.Title, &item.URL, &item.Category, &item.Keyword,
		&item.Content, &like, &comment, &collect, &view,
		&item.Uploader, &fans, &uploadTime,
		&item.DownloadURL, &item.MD5, &item.Path,
	)
	if err != nil {
		return models.Item{}, err
	}
	item.Kind = models.Kind(kind)
	item.Counters = models.Counters{Like: int(like), Comment: int(comment), Collect: int(collect), View: int(view)}
	item.UploaderFans = int(fans)
	if uploadTime.Valid {
		t := uploadTime.Time
		item.UploadTime = &t
	}
	return item, nil
}

func scanAccount(row rowScanner) (models.Account, error) {
	var (
		acc     models.Account
		cookies string
	)
	if err := row.Scan(&acc.Phone, &acc.Password, &cookies); err != nil {
		return models.Account{}, err
	}
	if cookies != "" {
		if err := json.Unmarshal([]byte(cookies), &acc.Cookies); err != nil {
			return models.Account{}, fmt.Errorf("解析账号 %s 的cookies失败: %w", acc.Phone, err)
		}
	}
	return acc, nil
}

func encodeCookies(cookies []models.Cookie) (string, error) {
	if cookies == nil {
		cookies = []models.Cookie{}
	}
	data, err := json.Marshal(cookies)
	if err != nil {
		return "", fmt.Errorf("序列化cookies失败: %w", err)
	}
	return string(data), nil
}
