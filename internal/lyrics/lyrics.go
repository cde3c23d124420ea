// Package lyrics 解析带时间轴的歌词，根据播放进度定位当前行，
// 并从配置的歌词源获取同步歌词
package lyrics

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
)

// Line 一行带时间戳的歌词
type Line struct {
	TimeMs int
	Text   string
}

// lineRe 匹配固定格式的 [MM:SS.CC] 前缀
var lineRe = regexp.MustCompile(`^\[(\d{2}):(\d{2})\.(\d{2})\](.*)$`)

var metaTagRe = regexp.MustCompile(`^\[[a-zA-Z#]+:.*\]$`)

// ParseLine 解析一行 "[MM:SS.CC]text"，没有时间戳时 ok 为 false
// 返回的文本已去掉首尾空白，可能为空
func ParseLine(raw string) (line Line, ok bool) {
	m := lineRe.FindStringSubmatch(strings.TrimRight(raw, "\r"))
	if m == nil {
		return Line{}, false
	}
	min, _ := strconv.Atoi(m[1])
	sec, _ := strconv.Atoi(m[2])
	cs, _ := strconv.Atoi(m[3])
	return Line{
		TimeMs: (min*60+sec)*1000 + cs*10,
		Text:   strings.TrimSpace(m[4]),
	}, true
}

// Parse 把同步歌词解析成行，没有时间戳或文本为空的行丢弃
// 保持原始顺序，时间倒退也不重新排序
func Parse(payload string) []Line {
	var result []Line
	scanner := bufio.NewScanner(strings.NewReader(strings.TrimSpace(payload)))
	for scanner.Scan() {
		line, ok := ParseLine(scanner.Text())
		if !ok || line.Text == "" {
			continue
		}
		result = append(result, line)
	}
	return result
}

// Locate 返回 elapsedMs 对应的当前行及其下标，
// 还没播到第一行时下标为 -1
//
// 线性扫描，取第一个时间已到而下一行时间未到的行
// 时间不递减时就是 TimeMs <= elapsedMs 的最大下标
// 乱序输入不会重新排序
func Locate(lines []Line, elapsedMs int) (Line, int) {
	for i, line := range lines {
		if line.TimeMs > elapsedMs {
			continue
		}
		if i+1 == len(lines) || elapsedMs < lines[i+1].TimeMs {
			return line, i
		}
	}
	return Line{}, -1
}
