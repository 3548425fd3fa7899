package membership

import "testing"

func TestGroupKey(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"@Hamster_Combat", "hamster_combat"},
		{"  news ", "news"},
		{"https://t.me/SomeChannel/", "somechannel"},
		{"t.me/somechannel", "somechannel"},
		{"https://t.me/+AbCdEf", "https://t.me/+AbCdEf"},
		{"https://t.me/joinchat/XyZ", "https://t.me/joinchat/XyZ"},
		{"-1001234567890", "-1001234567890"},
		{"12345", "12345"},
		{"   ", ""},
	}
	for _, tc := range cases {
		if got := GroupKey(tc.in); got != tc.want {
			t.Fatalf("GroupKey(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestNewPostgresChecker_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewPostgresChecker(nil); err == nil {
		t.Fatalf("expected error for nil pool")
	}
	for _, bad := range []string{"", "  ", "bad-schema", "1abc", `x"; DROP`} {
		if _, err := NewPostgresChecker(nil, WithSchema(bad)); err == nil {
			t.Fatalf("expected error for schema %q", bad)
		}
	}
}
