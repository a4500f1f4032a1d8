package main

import (
	"bufio"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"speecheval/internal/config"
	"speecheval/internal/queue"
	"speecheval/internal/quota"
)

func newCredentialsCommand(ctx *commandContext) *cobra.Command {
	credCmd := &cobra.Command{
		Use:     "credentials",
		Aliases: []string{"creds"},
		Short:   "Manage the scoring model credential pool",
	}

	credCmd.AddCommand(newCredentialsAddCommand(ctx))
	credCmd.AddCommand(newCredentialsListCommand(ctx))
	credCmd.AddCommand(newCredentialsResetCommand(ctx))
	credCmd.AddCommand(newCredentialsActiveCommand(ctx, "deactivate", false))
	credCmd.AddCommand(newCredentialsActiveCommand(ctx, "activate", true))

	return credCmd
}

func providerOr(cfg *config.Config, flag string) string {
	if p := strings.TrimSpace(flag); p != "" {
		return p
	}
	return cfg.Quota.Provider
}

func newCredentialsAddCommand(ctx *commandContext) *cobra.Command {
	var provider, label, secret string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an API key to the pool (use --secret - to read it from stdin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "-" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read secret from stdin: %w", err)
				}
				secret = strings.TrimSpace(line)
			}
			if strings.TrimSpace(secret) == "" {
				return errors.New("--secret is required")
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				cred, err := store.AddCredential(cmd.Context(), providerOr(cfg, provider), label, secret)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added credential %s for %s\n", cred.ID, cred.Provider)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "Provider name (default: quota.provider)")
	cmd.Flags().StringVar(&label, "label", "", "Human-friendly label")
	cmd.Flags().StringVar(&secret, "secret", "", "API key, or - to read from stdin")
	return cmd
}

func newCredentialsListCommand(ctx *commandContext) *cobra.Command {
	var provider string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List credentials and today's exhausted models",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				creds, err := store.ListCredentials(cmd.Context(), providerOr(cfg, provider))
				if err != nil {
					return err
				}
				today := quotaDay(cfg)
				if asJSON {
					return writeJSON(cmd, credentialViews(creds, today))
				}
				if len(creds) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No credentials")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Label", "Key", "Active", "Errors", "Exhausted today"},
					buildCredentialRows(creds, today),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "Provider name (default: quota.provider)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

type credentialView struct {
	ID         string   `json:"id"`
	Provider   string   `json:"provider"`
	Label      string   `json:"label,omitempty"`
	Key        string   `json:"key"`
	Active     bool     `json:"active"`
	ErrorCount int      `json:"errorCount"`
	Exhausted  []string `json:"exhaustedToday"`
}

func credentialViews(creds []quota.Credential, today string) []credentialView {
	views := make([]credentialView, 0, len(creds))
	for _, cred := range creds {
		views = append(views, credentialView{
			ID:         cred.ID,
			Provider:   cred.Provider,
			Label:      cred.Label,
			Key:        maskSecret(cred.Secret),
			Active:     cred.Active,
			ErrorCount: cred.ErrorCount,
			Exhausted:  exhaustedModels(cred, today),
		})
	}
	return views
}

func buildCredentialRows(creds []quota.Credential, today string) [][]string {
	rows := make([][]string, 0, len(creds))
	for _, view := range credentialViews(creds, today) {
		rows = append(rows, []string{
			view.ID,
			view.Label,
			view.Key,
			yesNo(view.Active),
			strconv.Itoa(view.ErrorCount),
			strings.Join(view.Exhausted, ", "),
		})
	}
	return rows
}

func exhaustedModels(cred quota.Credential, today string) []string {
	var models []string
	for model := range cred.Models {
		if quota.IsExhausted(cred, model, today) {
			models = append(models, model)
		}
	}
	sort.Strings(models)
	return models
}

// maskSecret keeps the last four characters of a key.
func maskSecret(secret string) string {
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return "…" + secret[len(secret)-4:]
}

func quotaDay(cfg *config.Config) string {
	loc := time.UTC
	if cfg.Quota.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Quota.Timezone); err == nil {
			loc = l
		}
	}
	return time.Now().In(loc).Format(quota.DateLayout)
}

func newCredentialsResetCommand(ctx *commandContext) *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear every exhaustion flag for the provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				pool := quota.NewPool(store, providerOr(cfg, provider))
				cleared, err := pool.Reset(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d exhaustion flag(s)\n", cleared)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "Provider name (default: quota.provider)")
	return cmd
}

func newCredentialsActiveCommand(ctx *commandContext, use string, active bool) *cobra.Command {
	short := "Take a credential out of rotation"
	if active {
		short = "Return a credential to rotation"
	}
	return &cobra.Command{
		Use:   use + " <credential-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				changed, err := store.SetCredentialActive(cmd.Context(), args[0], active)
				if err != nil {
					return err
				}
				if !changed {
					return fmt.Errorf("credential %s not found", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Credential %s active=%s\n", args[0], yesNo(active))
				return nil
			})
		},
	}
}
