package preflight

import (
	"context"
	"strings"

	"speecheval/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// CheckPaths verifies the directories the daemon writes to.
func CheckPaths(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{CheckDirectoryAccess("Data directory", cfg.Paths.DataDir)}
	if cfg.Paths.LogDir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}
	return results
}

// RunAll executes every applicable check for the given config. creds may be
// nil, in which case the credential pool is not inspected.
func RunAll(ctx context.Context, cfg *config.Config, creds CredentialLister) []Result {
	if cfg == nil {
		return nil
	}
	results := CheckPaths(cfg)

	if strings.TrimSpace(cfg.Catalog.Path) != "" {
		results = append(results, CheckCatalog(cfg.Catalog.Path))
	}

	a, b, _ := cfg.ASRPair(cfg.ASR.Provider)
	results = append(results,
		CheckEndpoint(ctx, "ASR model A ("+a.Name+")", a.URL),
		CheckEndpoint(ctx, "ASR model B ("+b.Name+")", b.URL),
		CheckEndpoint(ctx, "Scoring LLM", cfg.LLM.BaseURL),
	)

	if creds != nil {
		results = append(results, CheckCredentials(ctx, creds, cfg.Quota.Provider, cfg.LLM.Models))
	}

	if cfg.Bus.Enabled && !cfg.Bus.Embedded {
		results = append(results, CheckBus(ctx, cfg.Bus.Servers))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
