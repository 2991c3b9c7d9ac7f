package commands

import (
	"reflect"
	"testing"
)

func TestSplitWordsBasic(t *testing.T) {
	got, err := splitWords("run my-workflow")
	if err != nil {
		t.Fatalf("splitWords: %v", err)
	}
	want := []string{"run", "my-workflow"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSplitWordsQuoted(t *testing.T) {
	got, err := splitWords(`debug know summary "a path/with space.md" other.md`)
	if err != nil {
		t.Fatalf("splitWords: %v", err)
	}
	want := []string{"debug", "know", "summary", "a path/with space.md", "other.md"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSplitWordsUnterminatedQuoteErrors(t *testing.T) {
	if _, err := splitWords(`run "unterminated`); err == nil {
		t.Fatal("expected error for unterminated quote")
	}
}

func TestSplitWordsEmpty(t *testing.T) {
	got, err := splitWords("   ")
	if err != nil {
		t.Fatalf("splitWords: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no words, got %v", got)
	}
}
