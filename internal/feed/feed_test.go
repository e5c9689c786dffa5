package feed_test

import (
	"errors"
	"testing"

	"jobmate/recommender-service/internal/feed"
)

func TestParse_AcceptedShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
		want int
	}{
		{"wrapped", `{"postings":[{"title":"a","description":"b"},{"title":"c","description":"d"}]}`, 2},
		{"bare array", `[{"title":"a","description":"b"}]`, 1},
		{"empty array", `[]`, 0},
		{"wrapped empty", `{"postings":[], "next": null}`, 0},
		{"mixed items", `[{"title":"a"}, "oops", 3]`, 3},
	}
	for _, c := range cases {
		items, err := feed.Parse([]byte(c.body))
		if err != nil {
			t.Errorf("%s: unexpected error: %v", c.name, err)
			continue
		}
		if len(items) != c.want {
			t.Errorf("%s: got %d items, want %d", c.name, len(items), c.want)
		}
	}
}

func TestParse_RejectsWrongShape(t *testing.T) {
	cases := map[string]string{
		"not json":         `<html>nope</html>`,
		"empty":            `   `,
		"object no key":    `{"jobs":[]}`,
		"postings object":  `{"postings":{"title":"a"}}`,
		"scalar":           `"postings"`,
		"truncated object": `{"postings":[`,
	}
	for name, body := range cases {
		_, err := feed.Parse([]byte(body))
		if !errors.Is(err, feed.ErrInvalidPayload) {
			t.Errorf("%s: expected ErrInvalidPayload, got %v", name, err)
		}
	}
}
