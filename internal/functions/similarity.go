package functions

import (
	"strings"
	"unicode"
)

// similarity 是两段文本字符二元组的 Dice 系数，取值 [0, 1]。
// 不足两个字符的文本退化为单字比较。
func similarity(a, b string) float64 {
	ga, gb := grams(a), grams(b)
	if len(ga) == 0 || len(gb) == 0 {
		return 0
	}
	var shared, total int
	for g, n := range ga {
		shared += min(n, gb[g])
		total += n
	}
	for _, n := range gb {
		total += n
	}
	return 2 * float64(shared) / float64(total)
}

func grams(s string) map[string]int {
	var rs []rune
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			rs = append(rs, r)
		}
	}
	out := map[string]int{}
	if len(rs) == 1 {
		out[string(rs)]++
		return out
	}
	for i := 0; i+1 < len(rs); i++ {
		out[string(rs[i:i+2])]++
	}
	return out
}
