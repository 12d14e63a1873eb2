package rbac

import "testing"

func TestCanMatrix(t *testing.T) {
	tests := []struct {
		name   string
		role   Role
		action Action
		want   bool
	}{
		{name: "admin invites", role: RoleAdmin, action: ActionInvite, want: true},
		{name: "admin deletes board", role: RoleAdmin, action: ActionDeleteBoard, want: true},
		{name: "admin moves task", role: RoleAdmin, action: ActionMoveTask, want: true},
		{name: "member views", role: RoleMember, action: ActionView, want: true},
		{name: "member edits lists", role: RoleMember, action: ActionEditLists, want: true},
		{name: "member creates task", role: RoleMember, action: ActionCreateTask, want: true},
		{name: "member deletes task", role: RoleMember, action: ActionDeleteTask, want: true},
		{name: "member cannot move task", role: RoleMember, action: ActionMoveTask, want: false},
		{name: "member cannot edit task", role: RoleMember, action: ActionEditTask, want: false},
		{name: "member cannot invite", role: RoleMember, action: ActionInvite, want: false},
		{name: "member cannot remove", role: RoleMember, action: ActionRemoveMember, want: false},
		{name: "member cannot delete board", role: RoleMember, action: ActionDeleteBoard, want: false},
		{name: "unknown role", role: Role("owner"), action: ActionView, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.want {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.want)
			}
		})
	}
}

func TestCanUpdateTask(t *testing.T) {
	tests := []struct {
		name     string
		role     Role
		assignee bool
		fields   []string
		want     bool
	}{
		{name: "admin any field", role: RoleAdmin, fields: []string{"title", "listId", "position"}, want: true},
		{name: "assignee completes", role: RoleMember, assignee: true, fields: []string{"completed"}, want: true},
		{name: "assignee retitles", role: RoleMember, assignee: true, fields: []string{"title"}, want: false},
		{name: "assignee mixed patch", role: RoleMember, assignee: true, fields: []string{"completed", "deadline"}, want: false},
		{name: "non assignee completes", role: RoleMember, fields: []string{"completed"}, want: false},
		{name: "non assignee retitles", role: RoleMember, fields: []string{"title"}, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanUpdateTask(tc.role, tc.assignee, tc.fields); got != tc.want {
				t.Fatalf("CanUpdateTask() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("admin") != RoleAdmin {
		t.Fatal("expected admin to round-trip")
	}
	if Normalize("viewer") != RoleMember {
		t.Fatal("expected unknown roles to fall back to member")
	}
}
