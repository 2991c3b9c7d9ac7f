// Command omegad boots the workflow runtime: loads and interpolates a
// workflow configuration document, wires the runtime.Project (LLM
// provider, shell manager, tool registry, executor factory), starts the
// loopback HTTP server for http-input nodes and the UI bridge's websocket
// endpoint, and runs until signalled to stop.
//
// Grounded on the teacher's cmd/omega/main.go: same env-var-driven
// wiring order, .env loading, banner-style startup log, and
// optional-MCP-if-config-exists pattern, generalized from a single chat
// agent to the graph runner's project/manager/httpd/uibridge stack.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/pocketomega/pocket-omega/internal/wf/config"
	"github.com/pocketomega/pocket-omega/internal/wf/executor"
	"github.com/pocketomega/pocket-omega/internal/wf/executor/applypatch"
	"github.com/pocketomega/pocket-omega/internal/wf/executor/execnode"
	"github.com/pocketomega/pocket-omega/internal/wf/executor/llm/preprocess"
	"github.com/pocketomega/pocket-omega/internal/wf/executor/httpinput"
	"github.com/pocketomega/pocket-omega/internal/wf/executor/inputnode"
	"github.com/pocketomega/pocket-omega/internal/wf/executor/llmexec"
	"github.com/pocketomega/pocket-omega/internal/wf/graphmodel"
	"github.com/pocketomega/pocket-omega/internal/wf/httpd"
	"github.com/pocketomega/pocket-omega/internal/wf/llm/openai"
	"github.com/pocketomega/pocket-omega/internal/wf/manager"
	"github.com/pocketomega/pocket-omega/internal/wf/persist"
	"github.com/pocketomega/pocket-omega/internal/wf/proc"
	"github.com/pocketomega/pocket-omega/internal/wf/runtime"
	"github.com/pocketomega/pocket-omega/internal/wf/settings"
	"github.com/pocketomega/pocket-omega/internal/wf/tool"
	"github.com/pocketomega/pocket-omega/internal/wf/tool/builtin"
	"github.com/pocketomega/pocket-omega/internal/wf/tool/mcp"
	"github.com/pocketomega/pocket-omega/internal/wf/uibridge"
	"github.com/pocketomega/pocket-omega/internal/wf/vars"
)

func main() {
	config.LoadEnv()

	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║          Pocket-Omega Runtime          ║")
	fmt.Println("║   workflow graphs · tools · agents     ║")
	fmt.Println("╚══════════════════════════════════════╝")

	workspaceDir := os.Getenv("WORKSPACE_DIR")
	if workspaceDir == "" {
		workspaceDir, _ = os.Getwd()
	}
	if info, err := os.Stat(workspaceDir); err != nil || !info.IsDir() {
		log.Fatalf("❌ WORKSPACE_DIR %q does not exist or is not a directory", workspaceDir)
	}
	fmt.Printf("📂 Workspace: %s\n", workspaceDir)

	st, err := loadSettings(workspaceDir)
	if err != nil {
		log.Fatalf("❌ Failed to load workflow configuration: %v", err)
	}
	fmt.Printf("📜 Workflows: %d loaded\n", len(st.Workflows))

	graphs, err := st.Graphs()
	if err != nil {
		log.Fatalf("❌ Failed to build workflow graphs: %v", err)
	}

	prj := runtime.NewProject(workspaceDir)
	prj.Graphs = graphs
	prj.GlobalToolSpecs = st.GlobalToolSpecs()
	prj.AgentWorkflows = st.AgentWorkflowNames()
	prj.Tools = tool.NewRegistry()
	prj.Refresh = func(ctx context.Context, changes []runtime.FileChange) {
		for _, c := range changes {
			log.Printf("📄 %s: %s", c.Type, c.RelativeFilename)
		}
	}

	llmClient, err := openai.NewClientFromEnv()
	if err != nil {
		log.Fatalf("❌ Failed to initialize LLM client: %v", err)
	}
	prj.LLM = llmClient
	fmt.Printf("🤖 LLM: %s\n", llmClient.Name())

	shellCfg := processSettings(st).Shell
	prj.Shells = proc.New(proc.Settings{
		Mode:    shellModeToProcMode(shellCfg.Mode),
		Program: shellCfg.Program,
		Args:    shellCfg.Args,
	})

	builtin.RegisterAll(prj)
	fmt.Printf("🛠️  Tools: %d registered\n", len(prj.Tools.List()))

	if err := preprocess.RegisterBuiltins(); err != nil {
		log.Fatalf("❌ Failed to register LLM preprocessors: %v", err)
	}

	mcpConfigPath := os.Getenv("MCP_CONFIG")
	if mcpConfigPath == "" {
		mcpConfigPath = filepath.Join(workspaceDir, "mcp.json")
	}
	if _, statErr := os.Stat(mcpConfigPath); statErr == nil {
		mcpMgr := mcp.NewManager(mcpConfigPath)
		prj.Tools.Register(mcp.NewReloadTool(mcpMgr, prj.Tools))

		n, mcpErrs := mcpMgr.ConnectAll(context.Background())
		for _, e := range mcpErrs {
			log.Printf("⚠️  MCP connect: %v", e)
		}
		if n > 0 {
			if err := mcpMgr.RegisterTools(context.Background(), prj.Tools); err != nil {
				log.Printf("⚠️  MCP register tools: %v", err)
			}
			fmt.Printf("🔌 MCP: %d server(s) connected\n", n)
		}
		defer mcpMgr.CloseAll()
	}

	httpSettings := httpd.Settings{Host: "127.0.0.1", Port: 8787}
	if st.InternalHTTP != nil {
		if st.InternalHTTP.Host != "" {
			httpSettings.Host = st.InternalHTTP.Host
		}
		if st.InternalHTTP.Port != nil {
			httpSettings.Port = *st.InternalHTTP.Port
		}
		httpSettings.SecretKey = st.InternalHTTP.SecretKey
	}
	server := httpd.New(httpSettings)

	factory := executor.NewFactory()
	factory.Register("input", inputnode.New)
	factory.Register("exec", execnode.New)
	factory.Register("llm", llmexec.New)
	factory.Register("apply_patch", applypatch.New)
	factory.Register("http-input", func(n *graphmodel.Node, p *runtime.Project) (executor.Executor, error) {
		return httpinput.New(n, p, server)
	})

	mgr := manager.New(prj, st, factory)

	sessionID := os.Getenv("OMEGA_SESSION_ID")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	sm := persist.NewWorkflowStateManager(persistenceOptions(st, workspaceDir, sessionID))
	if err := sm.Start(context.Background()); err != nil {
		log.Fatalf("❌ Failed to start state manager: %v", err)
	}
	mgr.SetStateManager(sm)
	fmt.Printf("💾 Persistence: %s\n", sm.SessionDir())

	logStore := uibridge.NewLogStore(10000)

	uiHandler := func(w http.ResponseWriter, r *http.Request) {
		endpoint, err := uibridge.UpgradeWSEndpoint(w, r)
		if err != nil {
			log.Printf("⚠️  UI websocket upgrade failed: %v", err)
			return
		}
		bridge := uibridge.New(mgr, endpoint, logStore)
		bridge.Start(r.Context())
	}
	if httpSettings.SecretKey != "" {
		uiHandler = server.RequireBearerAuth(uiHandler)
	}
	if _, err := server.AddRoute(http.MethodGet, "/ui", uiHandler); err != nil {
		log.Fatalf("❌ Failed to mount /ui route: %v", err)
	}
	fmt.Printf("🌐 UI bridge: ws://%s:%d/ui\n", httpSettings.Host, httpSettings.Port)

	if st.DefaultWorkflow != "" && os.Getenv("AUTO_START") != "false" {
		if _, err := mgr.StartWorkflow(context.Background(), st.DefaultWorkflow, nil); err != nil {
			log.Printf("⚠️  Failed to auto-start default workflow %q: %v", st.DefaultWorkflow, err)
		} else {
			fmt.Printf("▶️  Auto-started workflow %q\n", st.DefaultWorkflow)
		}
	}

	fmt.Println("✅ Ready")

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	fmt.Println("🛑 Shutting down...")
	mgr.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sm.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  State manager shutdown: %v", err)
	}
}

// loadSettings reads and decodes the workflow configuration document
// (WORKFLOWS_CONFIG, defaulting to <workspace>/workflows.yaml), resolves
// its `variables` block, interpolates every `${...}` placeholder in the
// document against it, and decodes the result into typed settings.
func loadSettings(workspaceDir string) (*settings.Settings, error) {
	path := os.Getenv("WORKFLOWS_CONFIG")
	if path == "" {
		path = filepath.Join(workspaceDir, "workflows.yaml")
	}
	raw, err := (config.ExtLoader{}).Load(path)
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", path, err)
	}

	var varsRaw map[string]any
	if v, ok := raw["variables"].(map[string]any); ok {
		varsRaw = v
	}
	env := vars.NewEnv(varsRaw)

	resolved, err := vars.InterpolateDocument(raw, env)
	if err != nil {
		return nil, fmt.Errorf("interpolate %q: %w", path, err)
	}

	return settings.FromRaw(resolved)
}

// processSettings returns st.Process, defaulting to the decoder's own
// zero-value defaults (inherit-parent env, bash persistent shell) when the
// configuration document carries no `process` block at all.
func processSettings(st *settings.Settings) *settings.ProcessSettings {
	if st.Process != nil {
		return st.Process
	}
	return &settings.ProcessSettings{
		Env: settings.ProcessEnvSettings{InheritParent: true, Defaults: map[string]string{}},
		Shell: settings.ShellSettings{
			Mode:            settings.ShellModeShell,
			Program:         "bash",
			Args:            []string{"--noprofile", "--norc"},
			DefaultTimeoutS: 120,
		},
	}
}

// shellModeToProcMode bridges settings.ShellMode's "direct"/"shell" values
// onto proc.Mode's "direct"/"persistent" values — the two packages were
// built independently and never shared a vocabulary for this axis.
func shellModeToProcMode(m settings.ShellMode) proc.Mode {
	if m == settings.ShellModeDirect {
		return proc.ModeDirect
	}
	return proc.ModePersistent
}

// persistenceOptions builds persist.Options from st.Persistence, falling
// back to WorkflowStateManager's own defaults (120s flush, 1GiB retention)
// when the document carries no `persistence` block.
func persistenceOptions(st *settings.Settings, workspaceDir, sessionID string) persist.Options {
	opts := persist.Options{BasePath: workspaceDir, SessionID: sessionID}
	if st.Persistence == nil {
		return opts
	}
	if st.Persistence.SaveIntervalS > 0 {
		opts.SaveInterval = time.Duration(st.Persistence.SaveIntervalS * float64(time.Second))
	}
	opts.MaxTotalLogBytes = st.Persistence.MaxTotalLogBytes
	return opts
}
