package authz

const (
	RoleArenaAdmin    = "arena-admin"
	RoleArenaOperator = "arena-operator"
	RoleAnonymous     = "anonymous"
)

const (
	ActionRead  = "read"
	ActionAdmin = "admin"
)

const DomainGlobal = "global"

const (
	ObjectArenaApprovals = "arena.approvals"
	ObjectArenaBackfill  = "arena.backfill"
	ObjectArenaLive      = "arena.live"
)
