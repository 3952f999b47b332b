package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunDemo(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out bytes.Buffer
	if err := runDemo(ctx, &out, 2*time.Millisecond); err != nil {
		t.Fatalf("demo: %v\n%s", err, out.String())
	}
	got := out.String()
	for _, want := range []string{"leaderboard ready", "score uploaded: score=1200 rank=1", "avatar loaded: 64x64", "0 requests in flight"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "unexpected") {
		t.Fatalf("destroyed scene received a callback:\n%s", got)
	}
}
