package identity

import "testing"

func TestUserDisplayName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   User
		want string
	}{
		{name: "first and last", in: User{ID: 1, FirstName: "Ada", LastName: "Lovelace"}, want: "Ada Lovelace"},
		{name: "first only", in: User{ID: 1, FirstName: " Ada "}, want: "Ada"},
		{name: "username fallback", in: User{ID: 1, Username: "@Ada_L"}, want: "@ada_l"},
		{name: "empty", in: User{ID: 1}, want: ""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.in.DisplayName(); got != tc.want {
				t.Fatalf("DisplayName()=%q want=%q", got, tc.want)
			}
		})
	}
}

func TestUserValidate(t *testing.T) {
	t.Parallel()

	if err := (User{}).Validate(); err != ErrInvalidUser {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
	if err := (User{ID: 42}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
