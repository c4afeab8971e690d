package access

import (
	"errors"
	"reflect"
	"testing"
)

func TestCatalogIsTotalAndNonEmpty(t *testing.T) {
	for _, role := range Roles() {
		perms := PermissionsFor(role)
		if len(perms) == 0 {
			t.Fatalf("role %s resolved to empty permission set", role)
		}
	}
}

func TestAdminGrantsEverything(t *testing.T) {
	admin := PermissionsFor(RoleAdmin)
	if len(admin) != 1 || admin[0] != Wildcard {
		t.Fatalf("admin set must be exactly the wildcard, got %v", admin)
	}
	for _, need := range []string{"dashboard.read", "users.remove", "tools.sync", "made_up.action"} {
		if !Grants(admin, need) {
			t.Fatalf("admin should grant %q", need)
		}
	}
}

func TestEditorPermissionSet(t *testing.T) {
	want := []Permission{"dashboard.read", "tools.*", "users.*", "reports.*", "reviews.*"}
	if got := PermissionsFor(RoleEditor); !reflect.DeepEqual(got, want) {
		t.Fatalf("editor set mismatch: got %v want %v", got, want)
	}
}

func TestGrantsMatchingRules(t *testing.T) {
	set := []Permission{"dashboard.read", "users.*"}
	cases := []struct {
		need string
		want bool
	}{
		{"dashboard.read", true},
		{"dashboard.write", false},
		{"users.invite", true},
		{"users.remove", true},
		{"users", true}, // bare resource matches its own wildcard
		{"reports.read", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := Grants(set, tc.need); got != tc.want {
			t.Fatalf("Grants(%v, %q) = %v, want %v", set, tc.need, got, tc.want)
		}
	}
}

func TestGrantsDoesNotMatchResourcePrefix(t *testing.T) {
	// "users.*" must not grant "usersettings.read".
	set := []Permission{"users.*"}
	if Grants(set, "usersettings.read") {
		t.Fatal("wildcard leaked across resource boundary")
	}
}

func TestPermissionsForReturnsCopy(t *testing.T) {
	perms := PermissionsFor(RoleViewer)
	perms[0] = "mutated.value"
	if PermissionsFor(RoleViewer)[0] == "mutated.value" {
		t.Fatal("catalog must be immutable")
	}
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole("  Admin ")
	if err != nil || role != RoleAdmin {
		t.Fatalf("expected admin, got %q err=%v", role, err)
	}
	if _, err := ParseRole("superuser"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}
