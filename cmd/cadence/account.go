package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/cadence/internal/domain"
	"github.com/opensource-finance/cadence/internal/policy"
	"github.com/opensource-finance/cadence/internal/profile"
	"github.com/opensource-finance/cadence/internal/repository"
	"github.com/opensource-finance/cadence/internal/verifier"
)

// accountFlags are shared by the commands that act on one account directly
// against the configured store, without the HTTP API.
type accountFlags struct {
	tenant  string
	account string
}

func (f *accountFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.tenant, "tenant", "t", "", "tenant ID (defaults to server.defaultTenant)")
	cmd.Flags().StringVarP(&f.account, "account", "a", "", "account ID")
	_ = cmd.MarkFlagRequired("account")
}

func (f *accountFlags) tenantID(cfg *domain.Config) (string, error) {
	if f.tenant != "" {
		return f.tenant, nil
	}
	if cfg.Server.DefaultTenant != "" {
		return cfg.Server.DefaultTenant, nil
	}
	return "", errors.New("--tenant is required when no default tenant is configured")
}

// openService builds a service over the configured store. Events are not
// published and profiles are not cached.
func openService(cfg *domain.Config) (*verifier.Service, func() error, error) {
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	pol, err := policy.New(cfg.Policy)
	if err != nil {
		repo.Close()
		return nil, nil, fmt.Errorf("failed to compile policy: %w", err)
	}
	v := verifier.New(repo, profile.ParamsFromConfig(cfg.Model), verifier.WithTrace(debugTrace))
	return verifier.NewService(v, repo, pol, nil), repo.Close, nil
}

// keystrokeArg returns the sample from args, or from stdin when the
// argument is "-" or absent.
func keystrokeArg(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read keystroke from stdin: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("a keystroke sample is required")
	}
	return line, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newScoreCmd() *cobra.Command {
	var (
		flags  accountFlags
		submit bool
	)
	cmd := &cobra.Command{
		Use:   "score [keystroke|-]",
		Short: "Verify a keystroke sample against an account",
		Long: "Verify a keystroke sample against an account and record the decision.\n" +
			"With --submit the sample is scored as an enrollment attempt instead.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tenantID, err := flags.tenantID(cfg)
			if err != nil {
				return err
			}
			raw, err := keystrokeArg(cmd, args)
			if err != nil {
				return err
			}

			svc, closeFn, err := openService(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			decide := svc.Authenticate
			if submit {
				decide = svc.Submit
			}
			res, err := decide(cmd.Context(), tenantID, flags.account, raw)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	flags.bind(cmd)
	cmd.Flags().BoolVar(&submit, "submit", false, "score as an enrollment attempt (Added/Inconsistent)")
	return cmd
}

func newEnrollCmd() *cobra.Command {
	var flags accountFlags
	cmd := &cobra.Command{
		Use:   "enroll [keystroke|-]",
		Short: "Store a keystroke sample without scoring it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tenantID, err := flags.tenantID(cfg)
			if err != nil {
				return err
			}
			raw, err := keystrokeArg(cmd, args)
			if err != nil {
				return err
			}

			svc, closeFn, err := openService(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := svc.Enroll(cmd.Context(), tenantID, flags.account, raw); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enrolled sample for %s/%s\n", tenantID, flags.account)
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

func newProfileCmd() *cobra.Command {
	var flags accountFlags
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Print the calibrated profile of an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tenantID, err := flags.tenantID(cfg)
			if err != nil {
				return err
			}

			svc, closeFn, err := openService(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			p, err := svc.Verifier().BuildProfile(cmd.Context(), tenantID, flags.account)
			if err != nil {
				return err
			}
			return printJSON(cmd, p)
		},
	}
	flags.bind(cmd)
	return cmd
}

func newResetCmd() *cobra.Command {
	var flags accountFlags
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the stored keystroke history of an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tenantID, err := flags.tenantID(cfg)
			if err != nil {
				return err
			}

			svc, closeFn, err := openService(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			n, err := svc.Reset(cmd.Context(), tenantID, flags.account)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d samples for %s/%s\n", n, tenantID, flags.account)
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}
