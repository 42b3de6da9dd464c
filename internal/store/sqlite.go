package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/RecoveryAshes/toutiao-repost/internal/models"
	"github.com/RecoveryAshes/toutiao-repost/internal/utils"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS items (
	id                  TEXT PRIMARY KEY,
	kind                TEXT NOT NULL DEFAULT 'article',
	title               TEXT NOT NULL DEFAULT '',
	url                 TEXT NOT NULL DEFAULT '',
	category            TEXT NOT NULL DEFAULT '',
	keyword             TEXT NOT NULL DEFAULT '',
	content             TEXT NOT NULL DEFAULT '',
	like_count          INTEGER NOT NULL DEFAULT -1,
	comment_count       INTEGER NOT NULL DEFAULT -1,
	collect_count       INTEGER NOT NULL DEFAULT -1,
	view_count          INTEGER NOT NULL DEFAULT -1,
	uploader            TEXT NOT NULL DEFAULT '',
	uploader_fans_count INTEGER NOT NULL DEFAULT -1,
	upload_time         DATETIME,
	download_url        TEXT NOT NULL DEFAULT '',
	md5                 TEXT NOT NULL DEFAULT '',
	path                TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_items_category_keyword ON items(category, keyword);
CREATE INDEX IF NOT EXISTS idx_items_kind ON items(kind);

CREATE TABLE IF NOT EXISTS accounts (
	phone    TEXT PRIMARY KEY,
	password TEXT NOT NULL DEFAULT '',
	cookies  TEXT NOT NULL DEFAULT '[]'
);
`

// SQLite 基于 modernc.org/sqlite 的默认存储
type SQLite struct {
	db *sql.DB
	q  queries
}

// OpenSQLite 打开(必要时创建)数据库文件并建表, path 为 ":memory:" 时使用内存库
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	memory := path == ":memory:" || path == ""
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("创建数据库目录失败: %w", err)
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path, memory))
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	// 每个 :memory: 连接都是独立的库
	if memory {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化表结构失败: %w", err)
	}

	utils.Debugf("SQLite 存储已打开: %s", path)
	return &SQLite{db: db, q: newQueries(sq.Question)}, nil
}

// sqliteDSN pragma 写在 DSN 里, 连接池中的每个连接都会应用
func sqliteDSN(path string, memory bool) string {
	pragmas := []string{
		"foreign_keys(1)",
		"busy_timeout(10000)",
		"synchronous(NORMAL)",
	}
	if !memory {
		pragmas = append(pragmas, "journal_mode(WAL)")
	} else {
		path = ":memory:"
	}
	params := make([]string, 0, len(pragmas))
	for _, p := range pragmas {
		params = append(params, "_pragma="+url.QueryEscape(p))
	}
	return "file:" + path + "?" + strings.Join(params, "&")
}

func (s *SQLite) InsertItem(ctx context.Context, item models.Item) (bool, error) {
	query, args, err := s.q.insertItem(item)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("插入条目 %s 失败: %w", item.ID, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLite) UpdateItem(ctx context.Context, item models.Item) (bool, error) {
	query, args, err := s.q.updateItem(item)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("更新条目 %s 失败: %w", item.ID, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLite) Item(ctx context.Context, id string) (models.Item, error) {
	query, args, err := s.q.selectItem(id)
	if err != nil {
		return models.Item{}, err
	}
	item, err := scanItem(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Item{}, fmt.Errorf("条目 %s: %w", id, ErrNotFound)
	}
	return item, err
}

func (s *SQLite) Items(ctx context.Context, kind models.Kind) ([]models.Item, error) {
	return s.selectItems(ctx, Filter{Kind: kind})
}

func (s *SQLite) ItemsBy(ctx context.Context, filter Filter) ([]models.Item, error) {
	if filter.Category == "" && filter.Keyword == "" {
		return nil, ErrEmptyFilter
	}
	return s.selectItems(ctx, filter)
}

func (s *SQLite) selectItems(ctx context.Context, filter Filter) ([]models.Item, error) {
	query, args, err := s.q.selectItems(filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询条目失败: %w", err)
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("读取条目失败: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQLite) InsertAccount(ctx context.Context, account models.Account) (bool, error) {
	cookies, err := encodeCookies(account.Cookies)
	if err != nil {
		return false, err
	}
	query, args, err := s.q.insertAccount(account, cookies)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("插入账号 %s 失败: %w", account.Phone, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLite) Account(ctx context.Context, phone string) (models.Account, error) {
	accounts, err := s.accounts(ctx, phone)
	if err != nil {
		return models.Account{}, err
	}
	if len(accounts) == 0 {
		return models.Account{}, fmt.Errorf("账号 %s: %w", phone, ErrNotFound)
	}
	return accounts[0], nil
}

func (s *SQLite) Accounts(ctx context.Context) ([]models.Account, error) {
	return s.accounts(ctx, "")
}

func (s *SQLite) accounts(ctx context.Context, phone string) ([]models.Account, error) {
	query, args, err := s.q.selectAccounts(phone)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询账号失败: %w", err)
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

func (s *SQLite) ReplaceCookies(ctx context.Context, phone string, cookies []models.Cookie) error {
	encoded, err := encodeCookies(cookies)
	if err != nil {
		return err
	}
	query, args, err := s.q.replaceCookies(phone, encoded)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("替换账号 %s 的cookies失败: %w", phone, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("账号 %s: %w", phone, ErrNotFound)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
