// Package topic 负责主题标识的派生与展示：规范化、标题和父主题分组。
package topic

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var (
	titlePrefixRegex = regexp.MustCompile(`^\d{2}(_\d{2})?-`)
	groupRegex       = regexp.MustCompile(`^(\d{2})[_-]`)
)

// Normalize 将路径或外部传入的主题字符串规范化为主题 ID。
//
// 去掉目录部分（兼容反斜杠），从第一个非首位的 "." 处截断扩展名，并去除首尾空白。
// 结果不含路径分隔符，也不含首位之后的 "."，因此 Normalize(Normalize(x)) == Normalize(x)。
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, `\`, "/")
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		s = s[i+1:]
	}
	if len(s) > 1 {
		if i := strings.IndexByte(s[1:], '.'); i >= 0 {
			s = s[:i+1]
		}
	}
	return strings.TrimSpace(s)
}

// Title 由主题 ID 生成展示标题，如 "01_02-getting_started" -> "Getting Started"。
func Title(topicID string) string {
	s := titlePrefixRegex.ReplaceAllString(topicID, "")
	s = strings.NewReplacer("-", " ", "_", " ").Replace(s)
	return titleCase(s)
}

// titleCase 每个字母段首字母大写、其余小写。
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		b.WriteRune(r)
		prevLetter = false
	}
	return b.String()
}

// Group 返回主题所属的父主题分组：两位数字章节号，无章节号时为主题 ID 本身。
func Group(topicID string) string {
	if m := groupRegex.FindStringSubmatch(topicID); m != nil {
		return m[1]
	}
	return topicID
}

// Assign 按给定顺序为源文件路径分配唯一主题 ID。
// 规范化后重名的路径依次追加 "-2"、"-3" 后缀，且不会占用其他文件的原始 ID。
// 返回 path -> topicID 以及发生重名的路径列表。
func Assign(paths []string) (ids map[string]string, renamed []string) {
	base := make(map[string]string, len(paths))
	natural := make(map[string]bool, len(paths))
	for _, p := range paths {
		id := Normalize(p)
		base[p] = id
		natural[id] = true
	}

	ids = make(map[string]string, len(paths))
	used := make(map[string]bool, len(paths))
	for _, p := range paths {
		if _, done := ids[p]; done {
			continue
		}
		id := base[p]
		if used[id] {
			for n := 2; ; n++ {
				candidate := fmt.Sprintf("%s-%d", base[p], n)
				if !used[candidate] && !natural[candidate] {
					id = candidate
					break
				}
			}
			renamed = append(renamed, p)
		}
		used[id] = true
		ids[p] = id
	}
	return ids, renamed
}
