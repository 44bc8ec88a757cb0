package numbering

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

var numberPattern = regexp.MustCompile(`^(REQ|TKT)-[0-9A-Z]+-[0-9A-Z]{4}$`)

func TestGenerateFormat(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for _, prefix := range []Prefix{PrefixRequest, PrefixTicket} {
		got := Generate(prefix, now)
		if !numberPattern.MatchString(got) {
			t.Fatalf("unexpected number format %q", got)
		}
		parts := strings.Split(got, "-")
		millis, err := strconv.ParseInt(parts[1], 36, 64)
		if err != nil {
			t.Fatalf("timestamp not base36: %v", err)
		}
		if millis != now.UnixMilli() {
			t.Fatalf("timestamp = %d, want %d", millis, now.UnixMilli())
		}
	}
}

func TestGenerateSortsByCreationTime(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	var numbers []string
	for i := 0; i < 20; i++ {
		numbers = append(numbers, Generate(PrefixTicket, base.Add(time.Duration(i)*time.Second)))
	}
	sorted := append([]string(nil), numbers...)
	sort.Strings(sorted)
	for i := range numbers {
		if numbers[i] != sorted[i] {
			t.Fatalf("numbers not sortable by creation time at %d: %q vs %q", i, numbers[i], sorted[i])
		}
	}
}

func TestGeneratorConcurrentUse(t *testing.T) {
	gen := Generator{Prefix: PrefixRequest}
	var wg sync.WaitGroup
	results := make(chan string, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- gen.Next()
		}()
	}
	wg.Wait()
	close(results)
	for number := range results {
		if !numberPattern.MatchString(number) {
			t.Fatalf("unexpected number %q", number)
		}
	}
}

func TestGeneratorUsesClock(t *testing.T) {
	fixed := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	gen := Generator{Prefix: PrefixTicket, Now: func() time.Time { return fixed }}
	want := "TKT-" + strings.ToUpper(strconv.FormatInt(fixed.UnixMilli(), 36)) + "-"
	if got := gen.Next(); !strings.HasPrefix(got, want) {
		t.Fatalf("got %q, want prefix %q", got, want)
	}
}
