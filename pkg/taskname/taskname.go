package taskname

const (
	// Credits tasks
	CreditsGrantAllowance = "credits:grant_allowance"
)
