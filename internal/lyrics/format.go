package lyrics

import (
	"bufio"
	"strings"
)

// FormatSynced 把带时间轴的歌词转成完整回复用的显示行，
// 并返回 elapsedMs 时正在播放的行在其中的位置（没有则为 -1）
// [ar:...] 之类的元数据标签会去掉，没有时间戳的文字保留
func FormatSynced(raw string, elapsedMs int) ([]string, int) {
	_, active := Locate(Parse(raw), elapsedMs)

	var (
		out     []string
		current = -1
		timed   int
	)
	scanner := bufio.NewScanner(strings.NewReader(strings.TrimSpace(raw)))
	for scanner.Scan() {
		if line, ok := ParseLine(scanner.Text()); ok {
			if line.Text == "" {
				continue
			}
			if timed == active {
				current = len(out)
			}
			timed++
			out = append(out, line.Text)
			continue
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" || metaTagRe.MatchString(text) {
			continue
		}
		out = append(out, text)
	}
	return out, current
}
