// Package roomfile loads and watches the YAML file listing conversations to
// auto-join. Edits take effect live: added rooms are opened, removed rooms
// closed, generalizing the original behavior of joining all of the user's
// groups at connect time.
package roomfile

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/gastownhall/chatsync/internal/chat"
)

// File is the on-disk format.
type File struct {
	Groups        []string `yaml:"groups"`
	DirectChats   []string `yaml:"direct-chats"`
	IncludeFilter string   `yaml:"include-filter"`
	ExcludeFilter string   `yaml:"exclude-filter"`
}

// Load parses the rooms file and returns the conversations to join, in file
// order (groups first), with the include/exclude filters applied to group
// ids.
func Load(path string) ([]chat.Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	include, exclude, err := compileFilters(f.IncludeFilter, f.ExcludeFilter)
	if err != nil {
		return nil, err
	}

	var convs []chat.Conversation
	seen := make(map[string]bool)
	for _, id := range f.Groups {
		if id == "" || seen[id] || !passesFilter(id, include, exclude) {
			continue
		}
		seen[id] = true
		convs = append(convs, chat.Conversation{ID: id, Kind: chat.KindGroup})
	}
	for _, id := range f.DirectChats {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		convs = append(convs, chat.Conversation{ID: id, Kind: chat.KindDirect})
	}
	return convs, nil
}

// compileFilters compiles optional include/exclude regex strings. Returns
// nil for empty strings (no filter).
func compileFilters(includeStr, excludeStr string) (*regexp.Regexp, *regexp.Regexp, error) {
	var include, exclude *regexp.Regexp
	if includeStr != "" {
		var err error
		include, err = regexp.Compile(includeStr)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid include-filter: %v", err)
		}
	}
	if excludeStr != "" {
		var err error
		exclude, err = regexp.Compile(excludeStr)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid exclude-filter: %v", err)
		}
	}
	return include, exclude, nil
}

// passesFilter checks a group id against the include/exclude filters.
func passesFilter(id string, include, exclude *regexp.Regexp) bool {
	if include != nil && !include.MatchString(id) {
		return false
	}
	if exclude != nil && exclude.MatchString(id) {
		return false
	}
	return true
}
