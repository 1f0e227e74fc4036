package risk

import (
	"encoding/json"
	"fmt"
)

// Level 表示风险评估的有序等级，数值越大风险越高。
type Level int

const (
	LevelSafe Level = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
)

var levelNames = map[Level]string{
	LevelSafe:     "safe",
	LevelLow:      "low",
	LevelMedium:   "medium",
	LevelHigh:     "high",
	LevelCritical: "critical",
}

// String 返回等级的线上表示。
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel 解析线上表示，未识别的取 medium。
func ParseLevel(raw string) Level {
	for level, name := range levelNames {
		if name == raw {
			return level
		}
	}
	return LevelMedium
}

// Max 返回两个等级中更高的那个。
func Max(a, b Level) Level {
	if a > b {
		return a
	}
	return b
}

// MarshalJSON 以字符串形式编码等级。
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON 从字符串解码等级。
func (l *Level) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*l = ParseLevel(raw)
	return nil
}
