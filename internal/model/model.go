// Package model defines the domain types used across the application.
package model

import "time"

// Post is a forum thread announced in the RSS feed.
type Post struct {
	TID         int64
	Link        string
	Title       string
	Author      string
	Description string
}

// PendingPost is a post whose page was hidden behind the moderation banner
// when it was last checked.
type PendingPost struct {
	Post
	FirstSeenAt time.Time
	LastCheckAt *time.Time
	Checks      int
}

// FilterKind defines the type of filter rule.
type FilterKind string

// Supported filter kinds.
const (
	FilterInclude   FilterKind = "include"
	FilterExclude   FilterKind = "exclude"
	FilterIncludeRe FilterKind = "include_re"
	FilterExcludeRe FilterKind = "exclude_re"
)

// FilterScope defines which part of the post a filter matches against.
type FilterScope string

// Supported filter scopes.
const (
	ScopeTitle   FilterScope = "title"
	ScopeContent FilterScope = "content"
	ScopeAll     FilterScope = "all"
)

// Filter represents a single filtering rule applied to new posts.
type Filter struct {
	ID        int64
	Kind      FilterKind
	Scope     FilterScope
	Value     string
	CreatedAt time.Time
}
