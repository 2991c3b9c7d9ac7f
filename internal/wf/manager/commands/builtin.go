package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

func registerBuiltins(r *Registry) {
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}

	must(r.Register("workflows", "List configured workflows", nil, cmdListWorkflows))
	must(r.Register("run", "Stop all running workflows and start the given workflow", []string{"<workflow-name>"}, cmdRunWorkflow))
	must(r.Register("continue", "Continue the current stopped workflow", nil, cmdContinue))
	must(r.Register("reset", "Reset and restart the current workflow", nil, cmdReset))
	must(r.Register("stop", "Stop the current workflow", nil, cmdStop))
	must(r.Register("help", "Show available commands", nil, cmdHelp(r)))
}

func cmdListWorkflows(ctx context.Context, host Host, args []string) error {
	st := host.Manager().Settings()
	if st == nil || len(st.Workflows) == 0 {
		return host.SendText("No workflows configured.")
	}
	names := make([]string, 0, len(st.Workflows))
	for name := range st.Workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	lines := make([]string, 0, len(names)+1)
	lines = append(lines, "Workflows:")
	for _, name := range names {
		lines = append(lines, "  - "+name)
	}
	return host.SendText(strings.Join(lines, "\n"))
}

func cmdRunWorkflow(ctx context.Context, host Host, args []string) error {
	if len(args) != 1 {
		return usageError("Usage: /run <workflow-name>")
	}
	workflowName := args[0]

	st := host.Manager().Settings()
	if st == nil || len(st.Workflows) == 0 {
		return usageError("Project settings do not define any workflows.")
	}
	if _, ok := st.Workflows[workflowName]; !ok {
		return usageError("Unknown workflow '%s'.", workflowName)
	}

	host.Manager().Stop()
	if _, err := host.Manager().StartWorkflow(ctx, workflowName, nil); err != nil {
		return fmt.Errorf("start workflow %q: %w", workflowName, err)
	}
	return nil
}

// cmdContinue restarts the current runner in place, which — given
// internal/wf/runner's resumePoint logic honoring each node's reset_policy
// ("keep" nodes reuse their last NodeExecution) — is this runtime's
// equivalent of the original's continue_current_runner: it resumes rather
// than starting over, for any node configured to keep state.
func cmdContinue(ctx context.Context, host Host, args []string) error {
	if len(args) != 0 {
		return usageError("Usage: /continue")
	}
	if host.Manager().CurrentRunner() == nil {
		return usageError("No stopped workflow to continue.")
	}
	if _, err := host.Manager().RestartCurrentRunner(ctx, nil); err != nil {
		return err
	}
	return nil
}

func cmdReset(ctx context.Context, host Host, args []string) error {
	if len(args) != 0 {
		return usageError("Usage: /reset")
	}
	workflowName := host.Manager().CurrentWorkflowName()
	if workflowName == "" {
		return usageError("No active workflow to reset.")
	}
	return cmdRunWorkflow(ctx, host, []string{workflowName})
}

func cmdStop(ctx context.Context, host Host, args []string) error {
	if len(args) != 0 {
		return usageError("Usage: /stop")
	}
	if host.Manager().CurrentRunner() == nil {
		return usageError("No active workflow to stop.")
	}
	host.Manager().StopCurrentRunner()
	return nil
}

func cmdHelp(r *Registry) Handler {
	return func(ctx context.Context, host Host, args []string) error {
		lines := []string{"Commands:"}
		for _, e := range r.HelpEntries() {
			if e.Name == "help" {
				continue
			}
			signature := "/" + e.Name
			if len(e.Params) > 0 {
				signature += " " + strings.Join(e.Params, " ")
			}
			if e.Description != "" {
				lines = append(lines, fmt.Sprintf("  %s - %s", signature, e.Description))
			} else {
				lines = append(lines, "  "+signature)
			}
		}
		return host.SendText(strings.Join(lines, "\n"))
	}
}
