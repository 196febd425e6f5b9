package main

import (
	"log"

	"github.com/FeepingCreature/forge/internal/config"
	"github.com/FeepingCreature/forge/internal/gitstore"
	"github.com/FeepingCreature/forge/internal/session"
	"github.com/FeepingCreature/forge/internal/tool"
	"github.com/FeepingCreature/forge/internal/tool/manifest"
	"github.com/FeepingCreature/forge/internal/userstate"
)

// main bootstraps the engine over the repository at FORGE_DATA_ROOT: it
// runs the startup recovery scan (WAITING_CHILDREN sessions reloaded,
// crashed RUNNING sessions reset to IDLE), discovers tools, and reports
// workspace status. A host process embeds the same packages and attaches
// its own observers; this binary is the standalone bootstrap/maintenance
// entrypoint.
func main() {
	cfg := config.Global

	store, err := gitstore.Open(cfg.DataRoot)
	if err != nil {
		log.Fatalf("open repository at %s: %v", cfg.DataRoot, err)
	}

	branches, err := store.Branches()
	if err != nil {
		log.Fatalf("list branches: %v", err)
	}

	registry := session.NewRegistry(store)
	if err := registry.StartupScan(branches, gitstore.DefaultSignature()); err != nil {
		log.Fatalf("startup scan: %v", err)
	}

	tools := tool.NewRegistry()
	tools.RegisterBuiltins()
	if err := tools.RegisterUserTools(manifest.NewLoader(cfg.ToolsPath())); err != nil {
		log.Printf("Warning: failed to load user tools from %s: %v", cfg.ToolsPath(), err)
	}

	if _, err := tool.LoadApprovalRecord(cfg.ApprovalPath()); err != nil {
		log.Fatalf("load approval record: %v", err)
	}

	st, err := userstate.Load(cfg.DataRoot)
	if err != nil {
		log.Printf("Warning: failed to load user state: %v", err)
		st = &userstate.State{}
	}
	if st.LastBranch != "" {
		log.Printf("Last opened branch: %s", st.LastBranch)
	}

	loaded := 0
	for _, branch := range branches {
		if _, ok := registry.Get(branch); ok {
			loaded++
		}
	}
	log.Printf("forge ready: %d branches (%d sessions loaded), %d tools", len(branches), loaded, len(tools.Names()))
}
