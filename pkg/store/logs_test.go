package store

import (
	"reflect"
	"testing"
)

func TestSaveLog_MetadataRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		metadata any
	}{
		{
			name:     "nil",
			metadata: nil,
		},
		{
			name:     "string",
			metadata: "hello",
		},
		{
			name:     "number",
			metadata: 3.14,
		},
		{
			name: "object",
			metadata: map[string]any{
				"method":       "GET",
				"endpoint":     "/api/v1/health",
				"status":       float64(200),
				"responseTime": float64(45),
				"userAgent":    "Random-Log-Generator/1.0",
			},
		},
		{
			name: "nested",
			metadata: map[string]any{
				"tags":   []any{"a", "b", true, nil},
				"nested": map[string]any{"ok": false, "depth": float64(2)},
			},
		},
		{
			name:     "array",
			metadata: []any{float64(1), "two", map[string]any{"three": float64(3)}},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := newTestStore(t)

			log := Log{Level: LevelWarning, Message: "test", Metadata: test.metadata}
			if err := s.SaveLog(ctx, log); err != nil {
				t.Fatalf("SaveLog: %v", err)
			}

			logs := s.SystemLogs(ctx, 1)
			if len(logs) != 1 {
				t.Fatalf("expected 1 log, got %d", len(logs))
			}

			if !reflect.DeepEqual(logs[0].Metadata, test.metadata) {
				t.Fatalf("metadata mismatch\n got: %#v\nwant: %#v", logs[0].Metadata, test.metadata)
			}
		})
	}
}

func TestSaveLog_Defaults(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveLog(ctx, Log{Message: "started"}); err != nil {
		t.Fatalf("SaveLog: %v", err)
	}

	logs := s.SystemLogs(ctx, 10)
	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}

	if logs[0].Level != LevelInfo {
		t.Fatalf("expected level %s, got %s", LevelInfo, logs[0].Level)
	}
	if logs[0].Timestamp == "" {
		t.Fatal("expected the missing timestamp to be replaced by now")
	}
}

func TestSaveLog_Unencodable(t *testing.T) {
	s := newTestStore(t)

	err := s.SaveLog(ctx, Log{Message: "bad", Metadata: make(chan int)})
	if err != ErrNotSaved {
		t.Fatalf("expected ErrNotSaved, got %v", err)
	}
}

func TestSystemLogs_Ordering(t *testing.T) {
	s := newTestStore(t)

	for _, msg := range []string{"a", "b", "c", "d"} {
		if err := s.SaveLog(ctx, Log{Message: msg}); err != nil {
			t.Fatalf("SaveLog: %v", err)
		}
	}

	logs := s.SystemLogs(ctx, 2)
	if len(logs) != 2 || logs[0].Message != "d" || logs[1].Message != "c" {
		t.Fatalf("unexpected logs %+v", logs)
	}
}
