package bot

import (
	"fmt"
	"strconv"
	"strings"

	"rss_relay/internal/model"
)

// FilterArgs holds the parsed arguments of a filter command.
type FilterArgs struct {
	Scope model.FilterScope
	Value string
}

// ParseFilterCommand parses arguments for /include, /exclude, etc.
// Format: [-s title|content|all] <value...>
func ParseFilterCommand(args string) (FilterArgs, error) {
	rest := strings.Fields(args)
	if len(rest) == 0 {
		return FilterArgs{}, fmt.Errorf("usage: [-s title|content|all] <value>")
	}

	scope := model.ScopeAll
	if rest[0] == "-s" {
		if len(rest) < 2 {
			return FilterArgs{}, fmt.Errorf("scope is required after -s")
		}
		switch rest[1] {
		case "title":
			scope = model.ScopeTitle
		case "content":
			scope = model.ScopeContent
		case "all":
			scope = model.ScopeAll
		default:
			return FilterArgs{}, fmt.Errorf("invalid scope %q, use: title, content, all", rest[1])
		}
		rest = rest[2:]
	}

	if len(rest) == 0 {
		return FilterArgs{}, fmt.Errorf("filter value is required")
	}

	return FilterArgs{
		Scope: scope,
		Value: strings.Join(rest, " "),
	}, nil
}

// ParseIDArg extracts a filter ID from a command argument string.
// The "F" prefix shown in filter listings is accepted.
func ParseIDArg(args string) (int64, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return 0, fmt.Errorf("filter ID is required")
	}
	s := strings.TrimPrefix(strings.TrimPrefix(fields[0], "F"), "f")
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid filter ID %q", fields[0])
	}
	return id, nil
}
