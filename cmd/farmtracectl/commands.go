package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/javajoker/farmtrace-backend/internal/app"
	"github.com/javajoker/farmtrace-backend/internal/config"
	"github.com/javajoker/farmtrace-backend/internal/services"
	"github.com/javajoker/farmtrace-backend/internal/utils"
)

func settleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settle [transaction-id]",
		Short: "Pay a farmer for one recorded sale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid transaction id %q: %w", args[0], err)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				result, err := a.Services.Settlement.Settle(ctx, id)
				if result != nil {
					if printErr := printJSON(result); printErr != nil {
						return printErr
					}
				}
				return err
			})
		},
	}
}

func settlePendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settle-pending",
		Short: "Settle every pending M-Pesa sale",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				result, err := a.Services.Settlement.SettlePending(ctx, limit)
				if err != nil {
					return err
				}
				if err := printJSON(result); err != nil {
					return err
				}
				if result.Failed > 0 {
					return fmt.Errorf("%d of %d settlements failed", result.Failed, len(result.Items))
				}
				return nil
			})
		},
	}

	cmd.Flags().IntP("limit", "n", 0, "Maximum transactions to settle (0 uses SETTLEMENT_BATCH_LIMIT)")

	return cmd
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Finish ledger anchoring and carbon credits for paid sales",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				result, err := a.Services.Settlement.Reconcile(ctx, limit)
				if err != nil {
					return err
				}
				return printJSON(result)
			})
		},
	}

	cmd.Flags().IntP("limit", "n", 0, "Maximum transactions to reconcile")

	return cmd
}

func releaseStaleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release-stale",
		Short: "Release settlements stuck before payout and list those needing review",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				report, err := a.Services.Settlement.ReleaseStale(ctx, limit)
				if err != nil {
					return err
				}
				return printJSON(report)
			})
		},
	}

	cmd.Flags().IntP("limit", "n", 0, "Maximum processing transactions to inspect")

	return cmd
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [produce-id]",
		Short: "Check the custody trail of a batch against the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid produce id %q: %w", args[0], err)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				outcome, err := a.Services.Custody.Verify(ctx, &services.VerificationRequest{
					ProduceID: &id,
					Method:    "ledger",
				})
				if err != nil {
					return err
				}
				return printJSON(outcome.Proof)
			})
		},
	}
}

func expireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Expire every batch past its expiry date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				expired, err := a.Services.Produce.ExpireDue(ctx, time.Now())
				if printErr := printJSON(map[string]any{"expired": expired, "count": len(expired)}); printErr != nil {
					return printErr
				}
				return err
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			operator, _ := cmd.Flags().GetString("operator")
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetInt("ttl")

			switch role {
			case utils.RoleAgent, utils.RoleFinance, utils.RoleAdmin:
			default:
				return fmt.Errorf("unknown role %q", role)
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			utils.SetJWTSecret(cfg.JWT.SecretKey)
			utils.SetJWTIssuer(cfg.JWT.Issuer)
			if ttl <= 0 {
				ttl = cfg.JWT.AccessTokenTTL
			}

			token, err := utils.GenerateJWT(operator, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().String("operator", "", "Operator id recorded in the audit log")
	cmd.Flags().String("role", utils.RoleAgent, "Role: agent, finance or admin")
	cmd.Flags().Int("ttl", 0, "Lifetime in hours (0 uses JWT_ACCESS_TTL)")
	_ = cmd.MarkFlagRequired("operator")

	return cmd
}
