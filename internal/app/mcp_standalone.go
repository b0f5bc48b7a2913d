package app

import (
	"context"
	"fmt"
	"log"

	"pagebuilder/internal/config"
	mcpserver "pagebuilder/internal/mcp"
	"pagebuilder/internal/service"
	"pagebuilder/internal/storage"
)

// logEmitter is the EventEmitter of MCP-only mode: there are no sockets to
// notify, so events are only logged.
type logEmitter struct{}

func (logEmitter) Emit(_ context.Context, event string, _ any) {
	log.Printf("[MCP] event %s", event)
}

// ServeMCP runs a standalone MCP server on stdin/stdout over the same
// database as the builder server. Approvals go through the database so the
// server's builder UI can answer them; its page watcher picks up the edits.
func ServeMCP(ctx context.Context, cfg *config.Config) error {
	db, err := storage.New(cfg.DBPath, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var emitter service.EventEmitter = logEmitter{}
	svc := newServices(db, cfg, emitter)
	defer svc.conns.Close()

	mcpSrv := mcpserver.New(mcpserver.Deps{
		Emitter:   emitter,
		Pages:     svc.pages,
		Elements:  svc.elements,
		Bindings:  svc.bindings,
		Engine:    engineOptions(cfg),
		Approvals: svc.approvals,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- mcpSrv.ServeStdio() }()
	select {
	case err = <-errCh:
	case <-ctx.Done():
	}
	if ferr := svc.elements.Flush(context.WithoutCancel(ctx)); ferr != nil {
		log.Printf("[MCP] flush elements: %v", ferr)
	}
	return err
}
