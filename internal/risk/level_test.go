package risk

import (
	"encoding/json"
	"testing"
)

func TestLevelOrdering(t *testing.T) {
	ordered := []Level{LevelSafe, LevelLow, LevelMedium, LevelHigh, LevelCritical}
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1] >= ordered[i] {
			t.Fatalf("%s should rank below %s", ordered[i-1], ordered[i])
		}
	}
}

func TestMax(t *testing.T) {
	if got := Max(LevelLow, LevelHigh); got != LevelHigh {
		t.Fatalf("expected high, got %s", got)
	}
	if got := Max(LevelCritical, LevelMedium); got != LevelCritical {
		t.Fatalf("expected critical, got %s", got)
	}
}

func TestParseLevelDefaultsToMedium(t *testing.T) {
	if got := ParseLevel("whatever"); got != LevelMedium {
		t.Fatalf("expected medium for unknown input, got %s", got)
	}
	if got := ParseLevel("critical"); got != LevelCritical {
		t.Fatalf("expected critical, got %s", got)
	}
}

func TestLevelJSONRoundTrip(t *testing.T) {
	payload, err := json.Marshal(LevelHigh)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(payload) != `"high"` {
		t.Fatalf("unexpected encoding: %s", payload)
	}

	var decoded Level
	if err := json.Unmarshal([]byte(`"safe"`), &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded != LevelSafe {
		t.Fatalf("expected safe, got %s", decoded)
	}
}
