// Package filter implements the keyword rules deciding which new posts are relayed.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"rss_relay/internal/model"
)

// Rules is a set of filters prepared for matching many posts.
// Include rules are OR-ed, exclude rules are AND-ed, and an empty set
// accepts every post.
type Rules struct {
	include []rule
	exclude []rule
}

type rule struct {
	scope model.FilterScope
	word  string
	re    *regexp.Regexp
	bad   bool
}

// Compile prepares filters for matching. A regex that does not compile
// yields a rule that never matches.
func Compile(filters []model.Filter) *Rules {
	r := &Rules{}
	for _, f := range filters {
		ru := rule{scope: f.Scope}
		switch f.Kind {
		case model.FilterInclude, model.FilterExclude:
			ru.word = strings.ToLower(f.Value)
		case model.FilterIncludeRe, model.FilterExcludeRe:
			re, err := compile(f.Value)
			if err != nil {
				ru.bad = true
			}
			ru.re = re
		default:
			continue
		}

		switch f.Kind {
		case model.FilterInclude, model.FilterIncludeRe:
			r.include = append(r.include, ru)
		default:
			r.exclude = append(r.exclude, ru)
		}
	}
	return r
}

// Match reports whether post passes the rules.
func (r *Rules) Match(post model.Post) bool {
	for _, ru := range r.exclude {
		if ru.matches(post) {
			return false
		}
	}
	if len(r.include) == 0 {
		return true
	}
	for _, ru := range r.include {
		if ru.matches(post) {
			return true
		}
	}
	return false
}

func (ru rule) matches(post model.Post) bool {
	if ru.bad {
		return false
	}
	text := textForScope(post, ru.scope)
	if ru.re != nil {
		return ru.re.MatchString(text)
	}
	return strings.Contains(text, ru.word)
}

func textForScope(post model.Post, scope model.FilterScope) string {
	switch scope {
	case model.ScopeTitle:
		return strings.ToLower(post.Title)
	case model.ScopeContent:
		return strings.ToLower(post.Description)
	default:
		return strings.ToLower(post.Title + " " + post.Description)
	}
}

func compile(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + pattern)
}

// ValidateRegex checks whether a pattern is a valid regular expression.
func ValidateRegex(pattern string) error {
	if _, err := compile(pattern); err != nil {
		return fmt.Errorf("invalid regex: %w", err)
	}
	return nil
}
