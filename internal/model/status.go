// Package model はドメインモデルを定義する。
package model

import "time"

// Account は投稿者の参照情報を表す。
type Account struct {
	ID          string
	Username    string
	Acct        string
	DisplayName string
	URL         string
	AvatarURL   string
}

// Status はタイムライン上の1件の投稿を表す。
// IDはサーバー単位で一意であり、並び順はサーバーが決定する（ID降順）。
type Status struct {
	ID              string
	URL             string
	Account         Account
	Content         string // サニタイズ済みHTML
	PlainText       string // HTMLタグを除去したテキスト
	CreatedAt       time.Time
	RepliesCount    int
	ReblogsCount    int
	FavouritesCount int
	Favourited      bool
	Reblogged       bool
	Bookmarked      bool
	Reblog          *Status // ブーストの場合は元の投稿
}

// Target はインタラクション対象となる投稿を返す。
// ブーストの場合は元の投稿を返す。
func (s *Status) Target() *Status {
	if s.Reblog != nil {
		return s.Reblog
	}
	return s
}

// StatusCounters は投稿のカウンタとフラグの更新内容を表す。
type StatusCounters struct {
	ID              string
	RepliesCount    int
	ReblogsCount    int
	FavouritesCount int
	Favourited      bool
	Reblogged       bool
	Bookmarked      bool
}

// CountersOf は投稿の現在のカウンタを取り出す。
func CountersOf(s *Status) StatusCounters {
	return StatusCounters{
		ID:              s.ID,
		RepliesCount:    s.RepliesCount,
		ReblogsCount:    s.ReblogsCount,
		FavouritesCount: s.FavouritesCount,
		Favourited:      s.Favourited,
		Reblogged:       s.Reblogged,
		Bookmarked:      s.Bookmarked,
	}
}

// Apply はカウンタを投稿に反映する。
func (c StatusCounters) Apply(s *Status) {
	s.RepliesCount = c.RepliesCount
	s.ReblogsCount = c.ReblogsCount
	s.FavouritesCount = c.FavouritesCount
	s.Favourited = c.Favourited
	s.Reblogged = c.Reblogged
	s.Bookmarked = c.Bookmarked
}
