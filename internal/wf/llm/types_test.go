package llm

import "testing"

func TestParseToolArgumentsEmptyString(t *testing.T) {
	args, err := ParseToolArguments("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(args) != 0 {
		t.Fatalf("expected empty map, got %v", args)
	}
}

func TestParseToolArgumentsValidJSON(t *testing.T) {
	args, err := ParseToolArguments(`{"path": "a.txt", "count": 3}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args["path"] != "a.txt" {
		t.Fatalf("path = %v, want a.txt", args["path"])
	}
	if args["count"] != float64(3) {
		t.Fatalf("count = %v, want 3", args["count"])
	}
}

func TestParseToolArgumentsInvalidJSON(t *testing.T) {
	if _, err := ParseToolArguments("{not json"); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}
