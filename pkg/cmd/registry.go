package cmd

import (
	"fmt"
	"log/slog"

	"github.com/parleyhq/parley/pkg/resilience"
	"github.com/parleyhq/parley/pkg/tools"
)

// NewToolRegistry builds the registry with the banking tool set, routing
// calls to the tool service behind toolsURL. Schemas are validated here, at
// startup, so a broken definition fails fast.
func NewToolRegistry(toolsURL string, clientCfg resilience.Config, logger *slog.Logger) *tools.Registry {
	registry := tools.NewRegistry(logger, tools.NewHTTPCaller(toolsURL), clientCfg)

	for _, def := range tools.BankingDefinitions() {
		if err := registry.Register(def); err != nil {
			panic(fmt.Errorf("failed to register tool %s: %w", def.Name, err))
		}
	}

	return registry
}
