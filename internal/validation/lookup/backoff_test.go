package lookup

import (
	"testing"
	"time"
)

func TestComputeBackoffDoublesUntilCap(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 8 * time.Second},
		{50, 8 * time.Second},
	}
	for _, c := range cases {
		if got := computeBackoff(c.attempt); got != c.want {
			t.Errorf("computeBackoff(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}
