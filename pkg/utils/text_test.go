package utils

import (
	"reflect"
	"testing"
)

func TestTruncate(t *testing.T) {
	if Truncate("hello", 10) != "hello" {
		t.Error("short string unchanged")
	}
	if Truncate("hello world", 5) != "hello..." {
		t.Errorf("got %s", Truncate("hello world", 5))
	}
	if Truncate("x", 0) != "x" {
		t.Error("maxLen 0 returns as-is")
	}
	if Truncate("日本語テキスト", 3) != "日本語..." {
		t.Errorf("rune truncation: got %s", Truncate("日本語テキスト", 3))
	}
}

func TestOneLine(t *testing.T) {
	if got := OneLine("a cat,\n  sitting\ton a mat "); got != "a cat, sitting on a mat" {
		t.Errorf("got %q", got)
	}
}

func TestWords(t *testing.T) {
	got := Words("Masterpiece, (best quality:1.2), 8K")
	want := []string{"masterpiece", "best", "quality", "1", "2", "8k"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Words() = %v, want %v", got, want)
	}
}
