package logger

import "testing"

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"什么都不是":   LevelInfo, // 未知值回落 info
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetLevelFiltering(t *testing.T) {
	defer SetLevel("info")

	SetLevel("error")
	if enabled(LevelWarn) {
		t.Error("error 级别下 warn 不应输出")
	}
	if !enabled(LevelError) {
		t.Error("error 级别下 error 应输出")
	}

	SetLevel("debug")
	if !enabled(LevelDebug) {
		t.Error("debug 级别下 debug 应输出")
	}
}
