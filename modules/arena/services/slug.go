package services

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/jacksonlee411/arena-engine/modules/arena/domain/types"
)

const slugSuffix = "-leaderboard"

var slugSeparators = regexp.MustCompile(`[^a-z0-9]+`)

func baseSlug(p types.Project) (string, error) {
	s := slugSeparators.ReplaceAllString(strings.ToLower(strings.TrimSpace(p.Slug)), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "", types.NewInvalidInput(p.ID, "slug", "project slug is empty after normalization")
	}
	return s + slugSuffix, nil
}

// nextFreeSlug returns base when free, else base-2, base-3, ...
func nextFreeSlug(base string, taken []string) string {
	used := make(map[string]struct{}, len(taken))
	for _, s := range taken {
		used[s] = struct{}{}
	}
	if _, ok := used[base]; !ok {
		return base
	}
	for n := 2; ; n++ {
		candidate := base + "-" + strconv.Itoa(n)
		if _, ok := used[candidate]; !ok {
			return candidate
		}
	}
}
