package llm

import (
	"encoding/json"
	"strings"
)

// Extraction 表示从大模型输出中提取 JSON 对象的结果。
// Parsed 为 false 时 Raw 保留原始输出，由调用方决定如何降级。
type Extraction struct {
	Parsed bool
	Object json.RawMessage
	Raw    string
}

// ExtractObject 在输出文本中定位第一个 '{' 与最后一个 '}'，并尝试解析
// 其间的内容。大模型经常在 JSON 前后附加解释性文字或 markdown 围栏，
// 这里统一容忍。
func ExtractObject(raw string) Extraction {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return Extraction{Raw: raw}
	}

	candidate := raw[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return Extraction{Raw: raw}
	}
	return Extraction{Parsed: true, Object: json.RawMessage(candidate), Raw: raw}
}

// Decode 将提取到的 JSON 对象反序列化到目标结构。
func (e Extraction) Decode(v any) error {
	return json.Unmarshal(e.Object, v)
}
