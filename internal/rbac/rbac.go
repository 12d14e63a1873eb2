package rbac

type Role string
type Action string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

const (
	ActionView         Action = "view"
	ActionEditLists    Action = "edit_lists"
	ActionCreateTask   Action = "create_task"
	ActionDeleteTask   Action = "delete_task"
	ActionEditTask     Action = "edit_task"
	ActionMoveTask     Action = "move_task"
	ActionAttach       Action = "attach"
	ActionInvite       Action = "invite"
	ActionRemoveMember Action = "remove_member"
	ActionDeleteBoard  Action = "delete_board"
)

// FieldCompleted is the only task field a non-admin assignee may change.
const FieldCompleted = "completed"

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleMember:
		switch action {
		case ActionView, ActionEditLists, ActionCreateTask, ActionDeleteTask:
			return true
		}
		return false
	default:
		return false
	}
}

// CanUpdateTask applies the task edit rule: admins may change any field and
// move the task; a non-admin may only flip completion on a task assigned to
// them. fields names every attribute present in the patch.
func CanUpdateTask(role Role, isAssignee bool, fields []string) bool {
	if Can(role, ActionEditTask) {
		return true
	}
	if role != RoleMember || !isAssignee {
		return false
	}
	for _, field := range fields {
		if field != FieldCompleted {
			return false
		}
	}
	return true
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleAdmin, RoleMember:
		return Role(role)
	default:
		return RoleMember
	}
}
