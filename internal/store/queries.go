package store

import (
	sq "github.com/Masterminds/squirrel"

	"github.com/RecoveryAshes/toutiao-repost/internal/models"
)

var itemColumns = []string{
	"id", "kind", "title", "url", "category", "keyword",
	"content", "like_count", "comment_count", "collect_count", "view_count",
	"uploader", "uploader_fans_count", "upload_time",
	"download_url", "md5", "path",
}

// queries 两种后端共用的语句构造, 只有占位符格式不同
type queries struct {
	sb sq.StatementBuilderType
}

func newQueries(ph sq.PlaceholderFormat) queries {
	return queries{sb: sq.StatementBuilder.PlaceholderFormat(ph)}
}

func (q queries) insertItem(it models.Item) (string, []any, error) {
	kind := it.Kind
	if kind == "" {
		kind = models.KindArticle
	}
	return q.sb.Insert("items").
		Columns(itemColumns...).
		Values(
			it.ID, string(kind), it.Title, it.URL, it.Category, it.Keyword,
			it.Content, it.Counters.Like, it.Counters.Comment, it.Counters.Collect, it.Counters.View,
			it.Uploader, it.UploaderFans, nullTime(it.UploadTime),
			it.DownloadURL, it.MD5, it.Path,
		).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
}

// updateItem 每一列都是 col = COALESCE(?, col), 身份与分类字段不参与更新
func (q queries) updateItem(it models.Item) (string, []any, error) {
	coalesce := func(col string, v any) (string, sq.Sqlizer) {
		return col, sq.Expr("COALESCE(?, "+col+")", v)
	}
	b := q.sb.Update("items")
	for _, set := range []struct {
		col string
		v   any
	}{
		{"content", nullString(it.Content)},
		{"like_count", nullCount(it.Counters.Like)},
		{"comment_count", nullCount(it.Counters.Comment)},
		{"collect_count", nullCount(it.Counters.Collect)},
		{"view_count", nullCount(it.Counters.View)},
		{"uploader", nullString(it.Uploader)},
		{"uploader_fans_count", nullCount(it.UploaderFans)},
		{"upload_time", nullTime(it.UploadTime)},
		{"download_url", nullString(it.DownloadURL)},
		{"md5", nullString(it.MD5)},
		{"path", nullString(it.Path)},
	} {
		b = b.Set(coalesce(set.col, set.v))
	}
	return b.Where(sq.Eq{"id": it.ID}).ToSql()
}

func (q queries) selectItems(f Filter) (string, []any, error) {
	b := q.sb.Select(itemColumns...).From("items").OrderBy("id")
	if f.Kind != "" {
		b = b.Where(sq.Eq{"kind": string(f.Kind)})
	}
	if f.Category != "" {
		b = b.Where(sq.Eq{"category": f.Category})
	}
	if f.Keyword != "" {
		b = b.Where(sq.Eq{"keyword": f.Keyword})
	}
	return b.ToSql()
}

func (q queries) selectItem(id string) (string, []any, error) {
	return q.sb.Select(itemColumns...).From("items").Where(sq.Eq{"id": id}).ToSql()
}

func (q queries) insertAccount(a models.Account, cookies string) (string, []any, error) {
	return q.sb.Insert("accounts").
		Columns("phone", "password", "cookies").
		Values(a.Phone, a.Password, cookies).
		Suffix("ON CONFLICT (phone) DO NOTHING").
		ToSql()
}

func (q queries) selectAccounts(phone string) (string, []any, error) {
	b := q.sb.Select("phone", "password", "cookies").From("accounts").OrderBy("phone")
	if phone != "" {
		b = b.Where(sq.Eq{"phone": phone})
	}
	return b.ToSql()
}

func (q queries) replaceCookies(phone, cookies string) (string, []any, error) {
	return q.sb.Update("accounts").Set("cookies", cookies).Where(sq.Eq{"phone": phone}).ToSql()
}
