package maputil

// DeepMerge 返回 dst 与 src 递归合并后的新 map，不修改任何入参。
// 两侧同名且均为 map 的值继续向下合并；其余情况 src 覆盖 dst（列表整体替换）。
func DeepMerge(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = Clone(v)
	}
	for k, v := range src {
		sub, ok := asMap(v)
		if !ok {
			out[k] = Clone(v)
			continue
		}
		if cur, ok := asMap(out[k]); ok {
			out[k] = DeepMerge(cur, sub)
			continue
		}
		out[k] = DeepMerge(nil, sub)
	}
	return out
}

// Clone 深拷贝由 map[string]any / []any 组成的 JSON 风格结构，其他值原样返回。
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return DeepMerge(nil, t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = Clone(t[i])
		}
		return out
	default:
		return v
	}
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}
