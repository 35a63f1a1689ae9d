package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"atrium/internal/config"
	"atrium/internal/fault"
	"atrium/internal/store"
)

// ConnectProvider launches a configured MCP tool provider over stdio and
// registers its tools.
func (g *Gateway) ConnectProvider(ctx context.Context, cfg config.ProviderConfig) error {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Env...)

	client := mcp.NewClient(&mcp.Implementation{Name: "atrium", Version: "1"}, nil)
	session, err := client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return fmt.Errorf("connecting provider %q: %w", cfg.Name, err)
	}

	if err := g.Register(ctx, cfg.Name, session); err != nil {
		session.Close()
		return err
	}
	return nil
}

// Register adopts a live downstream session under a provider name: the
// provider Thing is upserted, each offered tool becomes a Tool Thing with
// available = true, and the coerced defs join the catalog. Reconnecting an
// existing provider refreshes descriptions and re-marks availability.
func (g *Gateway) Register(ctx context.Context, name string, caller toolCaller) error {
	listed, err := caller.ListTools(ctx, nil)
	if err != nil {
		return fmt.Errorf("listing tools for provider %q: %w", name, err)
	}

	providerID, err := g.upsertProviderThing(ctx, name)
	if err != nil {
		return err
	}

	defs := make([]ToolDef, 0, len(listed.Tools))
	for _, t := range listed.Tools {
		def := Coerce(name, t)
		if err := g.upsertToolThing(ctx, providerID, name, def); err != nil {
			return err
		}
		defs = append(defs, def)
	}

	// Tools the provider no longer offers stay as unavailable Things so
	// Equipped relationships and history keep resolving; the statement below
	// re-marks only what was just listed.
	if err := g.db.SetProviderToolsAvailable(ctx, providerID, false); err != nil {
		return err
	}
	avail := true
	for _, def := range defs {
		thing, err := g.db.GetByQualifiedName(ctx, toolQualifiedName(def.Name))
		if err != nil {
			return fmt.Errorf("resolving tool thing %q: %w", def.Name, err)
		}
		if err := g.db.UpdateThing(ctx, thing.ID, store.ThingUpdate{Available: &avail}); err != nil {
			return fmt.Errorf("marking tool %q available: %w", def.Name, err)
		}
	}

	g.mu.Lock()
	if prev, ok := g.providers[name]; ok && prev.caller != nil && prev.caller != caller {
		prev.caller.Close()
	}
	g.providers[name] = &provider{name: name, caller: caller, thingID: providerID, tools: defs}
	g.mu.Unlock()

	g.log.Info("provider connected", "provider", name, "tools", len(defs))
	return nil
}

// RefreshProviders re-lists every live provider's tools, re-marking
// availability and refreshing descriptions. A provider that stops answering
// is disconnected; its tools stay unavailable until it registers again.
func (g *Gateway) RefreshProviders(ctx context.Context) {
	g.mu.Lock()
	live := make(map[string]toolCaller, len(g.providers))
	for name, p := range g.providers {
		live[name] = p.caller
	}
	g.mu.Unlock()

	for name, caller := range live {
		if caller == nil {
			continue
		}
		rctx, cancel := context.WithTimeout(ctx, g.callTimeout)
		err := g.Register(rctx, name, caller)
		cancel()
		if err == nil {
			continue
		}
		g.log.Warn("provider refresh failed", "provider", name, "error", err)
		if derr := g.Disconnect(ctx, name); derr != nil && !errors.Is(derr, fault.ErrNotFound) {
			g.log.Error("disconnecting failed provider", "provider", name, "error", derr)
		}
	}
}

// Disconnect marks a provider's tools unavailable and drops the session.
// Nothing is deleted: history and equipment stay valid for a reconnect.
func (g *Gateway) Disconnect(ctx context.Context, name string) error {
	g.mu.Lock()
	p, ok := g.providers[name]
	if ok {
		delete(g.providers, name)
	}
	g.mu.Unlock()

	if !ok {
		return fmt.Errorf("provider %q: %w", name, fault.ErrNotFound)
	}

	if p.caller != nil {
		p.caller.Close()
	}

	if err := g.db.SetProviderToolsAvailable(ctx, p.thingID, false); err != nil {
		return err
	}
	avail := false
	if err := g.db.UpdateThing(ctx, p.thingID, store.ThingUpdate{Available: &avail}); err != nil {
		return fmt.Errorf("marking provider %q unavailable: %w", name, err)
	}

	g.log.Info("provider disconnected", "provider", name)
	return nil
}

func (g *Gateway) upsertProviderThing(ctx context.Context, name string) (string, error) {
	qname := providerQualifiedName(name)
	avail := true

	existing, err := g.db.GetByQualifiedName(ctx, qname)
	if err == nil {
		if err := g.db.UpdateThing(ctx, existing.ID, store.ThingUpdate{Available: &avail}); err != nil {
			return "", fmt.Errorf("refreshing provider thing %q: %w", name, err)
		}
		return existing.ID, nil
	}
	if !errors.Is(err, fault.ErrNotFound) {
		return "", fmt.Errorf("looking up provider thing %q: %w", name, err)
	}

	id, err := g.db.InsertThing(ctx, store.ThingInput{
		Kind:          store.KindToolProvider,
		Name:          name,
		QualifiedName: qname,
		Available:     true,
	})
	if err != nil {
		return "", fmt.Errorf("inserting provider thing %q: %w", name, err)
	}
	return id, nil
}

func (g *Gateway) upsertToolThing(ctx context.Context, providerID, providerName string, def ToolDef) error {
	qname := toolQualifiedName(def.Name)
	avail := true

	existing, err := g.db.GetByQualifiedName(ctx, qname)
	if err == nil {
		return g.db.UpdateThing(ctx, existing.ID, store.ThingUpdate{
			Content:   &def.Description,
			Available: &avail,
		})
	}
	if !errors.Is(err, fault.ErrNotFound) {
		return fmt.Errorf("looking up tool thing %q: %w", def.Name, err)
	}

	_, err = g.db.InsertThing(ctx, store.ThingInput{
		ParentID:      providerID,
		Kind:          store.KindTool,
		Name:          def.Name,
		QualifiedName: qname,
		Content:       def.Description,
		Metadata:      map[string]any{"provider": providerName, "tool": def.Tool},
		Available:     true,
	})
	if err != nil {
		return fmt.Errorf("inserting tool thing %q: %w", def.Name, err)
	}
	return nil
}

func providerQualifiedName(name string) string {
	return "provider/" + name
}

func toolQualifiedName(namespaced string) string {
	return "tool/" + namespaced
}
