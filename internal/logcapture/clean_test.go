package logcapture

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestStripANSI(t *testing.T) {
	cases := map[string]string{
		"\x1b[1;32mAgent:\x1b[0m Senior Web Researcher": "Agent: Senior Web Researcher",
		"\x1b]0;crew title\x07plain":                    "plain",
		"\x1b]8;;https://x.io\x1b\\link\x1b]8;;\x1b\\":  "link",
		"bell\x07 and \x1b[2Kcleared":                   "bell and cleared",
		"tabs\tstay":                                    "tabs\tstay",
	}
	for in, want := range cases {
		if got := StripANSI(in); got != want {
			t.Fatalf("StripANSI(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCleanCollapsesBlankRuns(t *testing.T) {
	in := "a   \n\n\n\n\nb\n\nc\n\n\nd"
	want := "a\n\nb\n\nc\n\n\nd"
	if got := Clean(in); got != want {
		t.Fatalf("Clean = %q, want %q", got, want)
	}
}

func TestCleanKeepsTextAfterCarriageReturn(t *testing.T) {
	if got := Clean("progress 10%\rprogress 100%\r\ndone"); got != "progress 100%\ndone" {
		t.Fatalf("unexpected clean output %q", got)
	}
}

func TestWriterSplitsAcrossWrites(t *testing.T) {
	var got []string
	w := NewWriter(func(lines []string) { got = append(got, lines...) })

	fmt.Fprint(w, "\x1b[36mfirst")
	fmt.Fprint(w, " line\x1b[0m  \nsecond\n")
	fmt.Fprint(w, "\n\n\n\nthird")
	if len(got) != 2 {
		t.Fatalf("expected 2 complete lines before flush, got %q", got)
	}
	w.Flush()

	want := []string{"first line", "second", "", "third"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestWriterFlushDropsTrailingBlanks(t *testing.T) {
	var got []string
	w := NewWriter(func(lines []string) { got = append(got, lines...) })
	fmt.Fprint(w, "only\n\n\n")
	w.Flush()
	if len(got) != 1 || got[0] != "only" {
		t.Fatalf("unexpected lines %q", got)
	}
}

func TestWriterConcurrentWritesKeepLinesWhole(t *testing.T) {
	var mu sync.Mutex
	var got []string
	w := NewWriter(func(lines []string) {
		mu.Lock()
		got = append(got, lines...)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				fmt.Fprintf(w, "worker-%d line-%d\n", i, j)
			}
		}(i)
	}
	wg.Wait()
	w.Flush()

	if len(got) != 400 {
		t.Fatalf("expected 400 lines, got %d", len(got))
	}
	for _, line := range got {
		if !strings.HasPrefix(line, "worker-") {
			t.Fatalf("torn line %q", line)
		}
	}
}

func TestWriterBoundsUnterminatedOutput(t *testing.T) {
	var got []string
	w := NewWriter(func(lines []string) { got = append(got, lines...) })

	chunk := strings.Repeat("x", 1024)
	for i := 0; i < MaxLineBytes/1024+1; i++ {
		fmt.Fprint(w, chunk)
	}
	if len(got) != 1 || len(got[0]) != MaxLineBytes {
		t.Fatalf("expected one capped line of %d bytes, got %d lines", MaxLineBytes, len(got))
	}
	if n := len(w.buf); n != 1024 {
		t.Fatalf("expected 1024 bytes still held, got %d", n)
	}

	w.Flush()
	if len(got) != 2 || got[1] != chunk {
		t.Fatalf("flush should emit the remainder")
	}
}
