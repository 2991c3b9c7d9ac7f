package builtin

import "github.com/pocketomega/pocket-omega/internal/wf/runtime"

// RegisterAll installs exec, apply_patch, run_agent, and update_plan into
// the project's tool registry.
func RegisterAll(prj *runtime.Project) {
	prj.Tools.Register(NewExecTool(prj))
	prj.Tools.Register(NewApplyPatchTool(prj))
	prj.Tools.Register(NewRunAgentTool(prj))
	prj.Tools.Register(NewUpdatePlanTool(prj))
}
