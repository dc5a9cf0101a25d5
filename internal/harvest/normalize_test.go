package harvest

import "testing"

func TestNormalizeVotes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want int
	}{
		{"", 0},
		{"   ", 0},
		{"42", 42},
		{" 42 ", 42},
		{"1.2万", 12000},
		{"3.5K", 3500},
		{"3.5k", 3500},
		{"2千", 2000},
		{"1.25w", 12500},
		{"7W", 70000},
		{"赞同 69", 69},
		{"赞同 1.1 万", 11000},
		{"1,234", 1234},
		{"abc", 0},
		{"-5", 0},
		{"1.2.3万", 0},
		{"万", 0},
		{".5K", 0},
		{"12abc", 0},
		{"0", 0},
		{"1.23456万", 12346},
		{"99999999999999999999", 0},
	}
	for _, tc := range cases {
		if got := NormalizeVotes(tc.raw); got != tc.want {
			t.Fatalf("NormalizeVotes(%q) = %d, want %d", tc.raw, got, tc.want)
		}
	}
}

func TestNormalizeVotesDeterministic(t *testing.T) {
	t.Parallel()

	for i := 0; i < 100; i++ {
		if got := NormalizeVotes("1.2万"); got != 12000 {
			t.Fatalf("iteration %d: got %d", i, got)
		}
	}
}

func TestNormalizeVotesSharedCap(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want int
	}{
		{"2147483647", MaxVotes},
		{"2147483648", 0},
		{"214748.3647万", MaxVotes},
		{"214748.3648万", 0},
		{"3000000K", 0},
		{"3000000000", 0},
	}
	for _, tc := range cases {
		if got := NormalizeVotes(tc.raw); got != tc.want {
			t.Fatalf("NormalizeVotes(%q) = %d, want %d", tc.raw, got, tc.want)
		}
	}
}
