package tool

import (
	"encoding/json"
	"log"
	"time"

	"github.com/FeepingCreature/forge/internal/ferr"
	"github.com/FeepingCreature/forge/internal/vfs"
)

// SourceLookup resolves a tool's source bytes for approval hashing. Builtin
// tools never need one; user tools supply their loaded source file.
type SourceLookup func(toolName string) ([]byte, bool)

// Dispatch resolves, approval-checks, and executes one tool call, logging
// at the dispatch boundary.
func Dispatch(reg *Registry, approvals *ApprovalRecord, sources SourceLookup, name string, fs vfs.VFS, args json.RawMessage, tc *Context) (*Result, error) {
	start := time.Now()
	t, err := reg.Get(name)
	if err != nil {
		log.Printf("tool dispatch: unknown tool %q", name)
		return nil, err
	}

	if !t.Builtin() {
		source, ok := sources(name)
		if !ok {
			return nil, ferr.New(ferr.UnknownTool, name+": source unavailable")
		}
		if err := RequireApproval(approvals, t, source); err != nil {
			return nil, err
		}
	}

	result, err := t.Execute(fs, args, tc)
	log.Printf("tool %s: turn=%d took=%s err=%v", name, tc.Turn, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return result, nil
}
