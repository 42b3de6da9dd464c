package store

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/RecoveryAshes/toutiao-repost/internal/models"
	"github.com/RecoveryAshes/toutiao-repost/internal/utils"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS items (
	id                  TEXT PRIMARY KEY,
	kind                TEXT NOT NULL DEFAULT 'article',
	title               TEXT NOT NULL DEFAULT '',
	url                 TEXT NOT NULL DEFAULT '',
	category            TEXT NOT NULL DEFAULT '',
	keyword             TEXT NOT NULL DEFAULT '',
	content             TEXT NOT NULL DEFAULT '',
	like_count          BIGINT NOT NULL DEFAULT -1,
	comment_count       BIGINT NOT NULL DEFAULT -1,
	collect_count       BIGINT NOT NULL DEFAULT -1,
	view_count          BIGINT NOT NULL DEFAULT -1,
	uploader            TEXT NOT NULL DEFAULT '',
	uploader_fans_count BIGINT NOT NULL DEFAULT -1,
	upload_time         TIMESTAMPTZ,
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

// Postgres 基于 pgx 连接池的存储
type Postgres struct {
	pool *pgxpool.Pool
	q    queries
}

// OpenPostgres 连接数据库并建表
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("解析数据库连接串失败: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("数据库不可达: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("初始化表结构失败: %w", err)
	}

	utils.Debugf("PostgreSQL 存储已连接: %s@%s/%s", cfg.ConnConfig.User, cfg.ConnConfig.Host, cfg.ConnConfig.Database)
	return &Postgres{pool: pool, q: newQueries(sq.Dollar)}, nil
}

func (p *Postgres) exec(ctx context.Context, query string, args []any) (int64, error) {
	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) InsertItem(ctx context.Context, item models.Item) (bool, error) {
	query, args, err := p.q.insertItem(item)
	if err != nil {
		return false, err
	}
	n, err := p.exec(ctx, query, args)
	if err != nil {
		return false, fmt.Errorf("插入条目 %s 失败: %w", item.ID, err)
	}
	return n > 0, nil
}

func (p *Postgres) UpdateItem(ctx context.Context, item models.Item) (bool, error) {
	query, args, err := p.q.updateItem(item)
	if err != nil {
		return false, err
	}
	n, err := p.exec(ctx, query, args)
	if err != nil {
		return false, fmt.Errorf("更新条目 %s 失败: %w", item.ID, err)
	}
	return n > 0, nil
}

func (p *Postgres) Item(ctx context.Context, id string) (models.Item, error) {
	query, args, err := p.q.selectItem(id)
	if err != nil {
		return models.Item{}, err
	}
	item, err := scanItem(p.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Item{}, fmt.Errorf("条目 %s: %w", id, ErrNotFound)
	}
	return item, err
}

func (p *Postgres) Items(ctx context.Context, kind models.Kind) ([]models.Item, error) {
	return p.selectItems(ctx, Filter{Kind: kind})
}

func (p *Postgres) ItemsBy(ctx context.Context, filter Filter) ([]models.Item, error) {
	if filter.Category == "" && filter.Keyword == "" {
		return nil, ErrEmptyFilter
	}
	return p.selectItems(ctx, filter)
}

func (p *Postgres) selectItems(ctx context.Context, filter Filter) ([]models.Item, error) {
	query, args, err := p.q.selectItems(filter)
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, query, args...)
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

func (p *Postgres) InsertAccount(ctx context.Context, account models.Account) (bool, error) {
	cookies, err := encodeCookies(account.Cookies)
	if err != nil {
		return false, err
	}
	query, args, err := p.q.insertAccount(account, cookies)
	if err != nil {
		return false, err
	}
	n, err := p.exec(ctx, query, args)
	if err != nil {
		return false, fmt.Errorf("插入账号 %s 失败: %w", account.Phone, err)
	}
	return n > 0, nil
}

func (p *Postgres) Account(ctx context.Context, phone string) (models.Account, error) {
	accounts, err := p.accounts(ctx, phone)
	if err != nil {
		return models.Account{}, err
	}
	if len(accounts) == 0 {
		return models.Account{}, fmt.Errorf("账号 %s: %w", phone, ErrNotFound)
	}
	return accounts[0], nil
}

func (p *Postgres) Accounts(ctx context.Context) ([]models.Account, error) {
	return p.accounts(ctx, "")
}

func (p *Postgres) accounts(ctx context.Context, phone string) ([]models.Account, error) {
	query, args, err := p.q.selectAccounts(phone)
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, query, args...)
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

func (p *Postgres) ReplaceCookies(ctx context.Context, phone string, cookies []models.Cookie) error {
	encoded, err := encodeCookies(cookies)
	if err != nil {
		return err
	}
	query, args, err := p.q.replaceCookies(phone, encoded)
	if err != nil {
		return err
	}
	n, err := p.exec(ctx, query, args)
	if err != nil {
		return fmt.Errorf("替换账号 %s 的cookies失败: %w", phone, err)
	}
	if n == 0 {
		return fmt.Errorf("账号 %s: %w", phone, ErrNotFound)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
