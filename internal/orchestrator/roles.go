package orchestrator

import "github.com/osahq/osa/internal/config"

// Role is a sub-agent specialization.
type Role string

const (
	RoleLead     Role = "lead"
	RoleBackend  Role = "backend"
	RoleFrontend Role = "frontend"
	RoleData     Role = "data"
	RoleDesign   Role = "design"
	RoleInfra    Role = "infra"
	RoleQA       Role = "qa"
	RoleRedTeam  Role = "red_team"
	RoleServices Role = "services"
)

var validRoles = map[Role]bool{
	RoleLead: true, RoleBackend: true, RoleFrontend: true,
	RoleData: true, RoleDesign: true, RoleInfra: true,
	RoleQA: true, RoleRedTeam: true, RoleServices: true,
}

// roleTiers routes each role to a model tier: the lead synthesizes and
// plans on the strongest model, narrow specialists run cheaper.
var roleTiers = map[Role]config.Tier{
	RoleLead:     config.TierElite,
	RoleBackend:  config.TierSpecialist,
	RoleFrontend: config.TierSpecialist,
	RoleData:     config.TierSpecialist,
	RoleDesign:   config.TierSpecialist,
	RoleInfra:    config.TierSpecialist,
	RoleQA:       config.TierSpecialist,
	RoleRedTeam:  config.TierSpecialist,
	RoleServices: config.TierUtility,
}

var rolePrompts = map[Role]string{
	RoleLead:     "You are the lead engineer. You own the overall outcome: integrate the work, make final calls, and keep the result coherent.",
	RoleBackend:  "You are a backend engineer. Focus on server-side logic, APIs, data flow, and correctness.",
	RoleFrontend: "You are a frontend engineer. Focus on user-facing behavior, interfaces, and presentation.",
	RoleData:     "You are a data engineer. Focus on schemas, queries, pipelines, and data integrity.",
	RoleDesign:   "You are a product designer. Focus on usability, naming, structure, and clarity of the result.",
	RoleInfra:    "You are an infrastructure engineer. Focus on deployment, configuration, operations, and reliability.",
	RoleQA:       "You are a QA engineer. Focus on verification: edge cases, failure modes, and concrete test steps.",
	RoleRedTeam:  "You are a security reviewer. Probe the work for vulnerabilities, unsafe assumptions, and abuse paths.",
	RoleServices: "You are a services integrator. Focus on wiring external services and third-party APIs.",
}

// TierFor returns the model tier for a role.
func TierFor(role Role) config.Tier {
	if tier, ok := roleTiers[role]; ok {
		return tier
	}
	return config.TierSpecialist
}

// PromptFor returns the role's system prompt.
func PromptFor(role Role) string {
	if p, ok := rolePrompts[role]; ok {
		return p
	}
	return rolePrompts[RoleLead]
}
