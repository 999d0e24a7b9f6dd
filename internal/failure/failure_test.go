package failure

import "testing"

func TestClassifyStatus(t *testing.T) {
	cases := map[int]Class{
		200: ClassSuccess,
		299: ClassSuccess,
		500: Class5xx,
		503: Class5xx,
		401: ClassAuthRejected,
		403: ClassAuthRejected,
		429: ClassRateLimited,
		400: ClassOther4xx,
		418: ClassOther4xx,
	}
	for status, want := range cases {
		if got := ClassifyStatus(status); got != want {
			t.Errorf("ClassifyStatus(%d) = %v, want %v", status, got, want)
		}
	}
}

func TestGranularitiesFor(t *testing.T) {
	cases := []struct {
		class                          Class
		channel, endpoint, key, pair   bool
	}{
		{ClassTransport, true, true, true, true},
		{Class5xx, true, true, true, true},
		{ClassAuthRejected, false, false, true, true},
		{ClassRateLimited, false, false, false, true},
		{ClassOther4xx, false, false, false, true},
	}
	for _, c := range cases {
		ch, ep, k, p := granularitiesFor(c.class)
		if ch != c.channel || ep != c.endpoint || k != c.key || p != c.pair {
			t.Errorf("granularitiesFor(%v) = (%v,%v,%v,%v), want (%v,%v,%v,%v)",
				c.class, ch, ep, k, p, c.channel, c.endpoint, c.key, c.pair)
		}
	}
}
