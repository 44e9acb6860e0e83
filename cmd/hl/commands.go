package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hopline/internal/domain"
	"hopline/internal/engine"
	"hopline/internal/repo"
)

func agentCmd() *cobra.Command {
	agent := &cobra.Command{Use: "agent", Short: "Manage agents"}

	var owner string
	add := &cobra.Command{
		Use:   "add <id>",
		Short: "Register an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.RegisterAgent(ctx, engine.AgentInput{ID: args[0], OwnerAddress: owner, ActorID: actorID()})
				if err != nil {
					return err
				}
				return printAgents(a)
			})
		},
	}
	add.Flags().StringVar(&owner, "owner", "", "owner address")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.GetAgent(ctx, args[0])
				if err != nil {
					return err
				}
				return printAgents(a)
			})
		},
	}

	var f repo.AgentFilters
	list := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListAgents(ctx, f)
				if err != nil {
					return err
				}
				return printAgents(items...)
			})
		},
	}
	list.Flags().StringVar(&f.Status, "status", "", "status filter")
	list.Flags().IntVar(&f.Limit, "limit", 50, "max agents")

	status := &cobra.Command{
		Use:   "status <id> <active|suspended|revoked>",
		Short: "Change agent status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.SetAgentStatus(ctx, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				return printAgents(a)
			})
		},
	}

	agent.AddCommand(add, show, list, status)
	return agent
}

func printAgents(items ...domain.Agent) error {
	if viper.GetBool("json") {
		if len(items) == 1 {
			return printJSON(items[0])
		}
		return printJSON(items)
	}
	tw := newTable("ID", "Owner", "Status", "Last activity")
	for _, a := range items {
		tw.AppendRow(table.Row{a.ID, a.OwnerAddress, a.Status, a.LastActivityAt})
	}
	tw.Render()
	return nil
}

func forwardCmd() *cobra.Command {
	fwd := &cobra.Command{
		Use:   "forward",
		Short: "Check and record forward hops",
		Long:  "A forward passes a payment from a source agent to a target agent under a root transaction. Hops that would close a loop are refused.",
	}

	var root, source, target string
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check whether a forward is safe",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.EnsureActive(ctx, source, target); err != nil {
					return err
				}
				res, err := e.VerifyForward(ctx, root, source, target)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("safe=%t reason=%s", res.Safe, res.Reason)
				if len(res.ImplicatedAgents) > 0 {
					fmt.Printf(" implicated=%s", strings.Join(res.ImplicatedAgents, ","))
				}
				fmt.Println()
				return nil
			})
		},
	}
	addForwardFlags(verify, &root, &source, &target)

	var in engine.ForwardInput
	var amount string
	record := &cobra.Command{
		Use:   "record",
		Short: "Verify and record a hop",
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := parseDecimal("amount", amount)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.EnsureActive(ctx, in.Source, in.Target); err != nil {
					return err
				}
				in.Amount = amt
				in.ActorID = actorID()
				hop, err := e.RecordForward(ctx, in)
				if err != nil {
					return err
				}
				return printHops(hop)
			})
		},
	}
	addForwardFlags(record, &in.RootTx, &in.Source, &in.Target)
	record.Flags().IntVar(&in.HopNumber, "hop", 1, "hop number (1-based)")
	record.Flags().StringVar(&amount, "amount", "0", "forwarded amount")
	record.Flags().BoolVar(&in.Force, "force", false, "record even when unsafe and flag the cycle")

	fwd.AddCommand(verify, record)
	return fwd
}

func addForwardFlags(cmd *cobra.Command, root, source, target *string) {
	cmd.Flags().StringVar(root, "root", "", "root transaction id")
	cmd.Flags().StringVar(source, "from", "", "source agent")
	cmd.Flags().StringVar(target, "to", "", "target agent")
}

func printHops(items ...domain.ForwardHop) error {
	if viper.GetBool("json") {
		if len(items) == 1 {
			return printJSON(items[0])
		}
		return printJSON(items)
	}
	tw := newTable("Root", "#", "From", "To", "Amount", "Cycle")
	for _, h := range items {
		cyc := ""
		if h.DetectedCycle && h.CycleDepth != nil {
			cyc = fmt.Sprintf("depth %d", *h.CycleDepth)
		}
		tw.AppendRow(table.Row{h.RootTx, h.HopNumber, h.FromAgent, h.ToAgent, h.Amount.String(), cyc})
	}
	tw.Render()
	return nil
}

func chainCmd() *cobra.Command {
	chain := &cobra.Command{Use: "chain", Short: "Inspect and reconcile chains"}

	show := &cobra.Command{
		Use:   "show <root_tx>",
		Short: "Show chain hops, path and cycle state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				view, err := e.ChainStatus(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				fmt.Printf("Path: %s\n", strings.Join(view.Path, " -> "))
				if view.Cycle.HasCycle {
					fmt.Printf("Cycle: %s (depth %d)\n", strings.Join(view.Cycle.CyclePath, " -> "), view.Cycle.CycleDepth)
				}
				return printHops(view.Hops...)
			})
		},
	}

	reconcile := &cobra.Command{
		Use:   "reconcile <root_tx>",
		Short: "Flag a cyclic chain and penalise every agent in the loop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.ReconcileChain(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printReconcile(rep)
			})
		},
	}

	var reporter string
	report := &cobra.Command{
		Use:   "report <root_tx>",
		Short: "Report a cyclic chain and collect the reward",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ReportCycle(ctx, args[0], reporter, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if res.AlreadyReported {
					fmt.Printf("%s already reported %s\n", res.Reporter, res.RootTx)
				} else {
					fmt.Printf("%s earned %d points\n", res.Reporter, res.PointsAwarded)
				}
				return printReconcile(res.Reconcile)
			})
		},
	}
	report.Flags().StringVar(&reporter, "reporter", "", "reporting agent")

	chain.AddCommand(show, reconcile, report)
	return chain
}

func printReconcile(rep engine.ReconcileReport) error {
	if viper.GetBool("json") {
		return printJSON(rep)
	}
	if !rep.Cycle.HasCycle {
		fmt.Printf("%s has no cycle\n", rep.RootTx)
		return nil
	}
	fmt.Printf("Cycle: %s (depth %d)\n", strings.Join(rep.Cycle.CyclePath, " -> "), rep.Cycle.CycleDepth)
	tw := newTable("Agent", "Root", "Points", "Slashed", "Already applied")
	for _, p := range rep.Penalties {
		tw.AppendRow(table.Row{p.AgentID, p.RootInitiator, p.PenaltyPoints, p.SlashedAmount.String(), p.AlreadyApplied})
	}
	tw.Render()
	return nil
}

func cyclesCmd() *cobra.Command {
	var q engine.CycleHistoryQuery
	cmd := &cobra.Command{
		Use:   "cycles",
		Short: "Cycle history by root, by agent or most recent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				h, err := e.CycleHistory(ctx, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(h)
				}
				if q.RootTx != "" {
					return printHops(h.Hops...)
				}
				tw := newTable("Root", "Depth", "Hops", "Last hop")
				for _, c := range h.Cycles {
					tw.AppendRow(table.Row{c.RootTx, c.CycleDepth, c.HopCount, c.LastHopAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&q.RootTx, "root", "", "root transaction id")
	cmd.Flags().StringVar(&q.AgentID, "agent", "", "agent id")
	cmd.Flags().IntVar(&q.Limit, "limit", 50, "max results")
	return cmd
}

func stakeCmd() *cobra.Command {
	stake := &cobra.Command{Use: "stake", Short: "Manage agent stake"}

	var amount string
	var lockDays int
	deposit := &cobra.Command{
		Use:   "deposit <agent>",
		Short: "Deposit stake and restart the lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := parseDecimal("amount", amount)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pos, err := e.Stake(ctx, engine.StakeInput{AgentID: args[0], Amount: amt, LockDays: lockDays, ActorID: actorID()})
				if err != nil {
					return err
				}
				return printStake(pos)
			})
		},
	}
	deposit.Flags().StringVar(&amount, "amount", "", "amount to stake")
	deposit.Flags().IntVar(&lockDays, "lock-days", 0, "lock period in days (0 uses config default)")

	var withdrawAmount string
	withdraw := &cobra.Command{
		Use:   "withdraw <agent>",
		Short: "Withdraw unlocked stake",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := parseDecimal("amount", withdrawAmount)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pos, err := e.Unstake(ctx, engine.UnstakeInput{AgentID: args[0], Amount: amt, ActorID: actorID()})
				if err != nil {
					return err
				}
				return printStake(pos)
			})
		},
	}
	withdraw.Flags().StringVar(&withdrawAmount, "amount", "", "amount to withdraw")

	show := &cobra.Command{
		Use:   "show <agent>",
		Short: "Show a stake position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pos, err := e.GetStake(ctx, args[0])
				if err != nil {
					return err
				}
				return printStake(pos)
			})
		},
	}

	stake.AddCommand(deposit, withdraw, show)
	return stake
}

func printStake(p domain.StakePosition) error {
	if viper.GetBool("json") {
		return printJSON(p)
	}
	tw := newTable("Agent", "Staked", "Slashed", "Available", "Tier", "Locked until")
	tw.AppendRow(table.Row{p.AgentID, p.StakedAmount.String(), p.SlashedAmount.String(), p.Available().String(), p.StakeTier, p.LockedUntil})
	tw.Render()
	return nil
}

func violationCmd() *cobra.Command {
	v := &cobra.Command{Use: "violation", Short: "Record and list violations"}

	var in engine.ViolationInput
	report := &cobra.Command{
		Use:   "report",
		Short: "Record a confirmed violation and slash the agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in.ActorID = actorID()
				out, err := e.ReportViolation(ctx, in)
				if err != nil {
					return err
				}
				return printViolations(out)
			})
		},
	}
	report.Flags().StringVar(&in.RootTx, "root", "", "root transaction id")
	report.Flags().StringVar(&in.AgentID, "agent", "", "violating agent")
	report.Flags().IntVar(&in.Severity, "severity", 1, "severity (slash rate multiplier)")

	var f repo.ViolationFilters
	list := &cobra.Command{
		Use:   "list",
		Short: "List violations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListViolations(ctx, f)
				if err != nil {
					return err
				}
				return printViolations(items...)
			})
		},
	}
	list.Flags().StringVar(&f.RootTx, "root", "", "root transaction id")
	list.Flags().StringVar(&f.AgentID, "agent", "", "agent id")
	list.Flags().IntVar(&f.Limit, "limit", 50, "max results")

	v.AddCommand(report, list)
	return v
}

func printViolations(items ...domain.Violation) error {
	if viper.GetBool("json") {
		if len(items) == 1 {
			return printJSON(items[0])
		}
		return printJSON(items)
	}
	tw := newTable("Root", "Agent", "Severity", "Slashed", "Reported by", "At")
	for _, v := range items {
		tw.AppendRow(table.Row{v.RootTx, v.AgentID, v.Severity, v.SlashedAmount.String(), v.ReportedBy, v.CreatedAt})
	}
	tw.Render()
	return nil
}

func paymentCmd() *cobra.Command {
	p := &cobra.Command{Use: "payment", Short: "Ingest payment outcomes"}
	var in engine.PaymentInput
	var amount string
	add := &cobra.Command{
		Use:   "add",
		Short: "Record a payment",
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := parseDecimal("amount", amount)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in.Amount = amt
				in.ActorID = actorID()
				rec, err := e.RecordPayment(ctx, in)
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	}
	add.Flags().StringVar(&in.AgentID, "agent", "", "agent id")
	add.Flags().StringVar(&in.TxHash, "tx-hash", "", "transaction hash")
	add.Flags().StringVar(&in.ClientAddress, "client", "", "client address")
	add.Flags().StringVar(&amount, "amount", "0", "amount")
	add.Flags().StringVar(&in.Status, "status", domain.PaymentCompleted, "completed or failed")
	p.AddCommand(add)
	return p
}

func feedbackCmd() *cobra.Command {
	fb := &cobra.Command{Use: "feedback", Short: "Ingest client feedback"}
	var in engine.FeedbackInput
	add := &cobra.Command{
		Use:   "add",
		Short: "Record feedback (score 0..100)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in.ActorID = actorID()
				rec, err := e.SubmitFeedback(ctx, in)
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	}
	add.Flags().StringVar(&in.AgentID, "agent", "", "agent id")
	add.Flags().StringVar(&in.ClientAddress, "client", "", "client address")
	add.Flags().IntVar(&in.Score, "score", 0, "score 0..100")
	add.Flags().StringVar(&in.Tag1, "tag1", "", "first tag")
	add.Flags().StringVar(&in.Tag2, "tag2", "", "second tag")
	fb.AddCommand(add)
	return fb
}

func trustCmd() *cobra.Command {
	t := &cobra.Command{Use: "trust", Short: "Trust classification"}
	show := &cobra.Command{
		Use:   "show <agent>",
		Short: "Show trust level and score breakdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.GetTrust(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				b := rep.Breakdown
				fmt.Printf("%s: %s\n", rep.AgentID, rep.TrustLevel)
				tw := newTable("Success %", "Feedback", "Violations", "Sybil", "Tier", "Payments", "Reputation")
				tw.AppendRow(table.Row{
					fmt.Sprintf("%.1f", b.SuccessRate),
					fmt.Sprintf("%.1f", b.AvgFeedbackScore),
					b.CycleViolationCount,
					fmt.Sprintf("%.1f", b.SybilScore),
					b.StakeTier,
					b.TotalPayments,
					b.ReputationScore,
				})
				tw.Render()
				return nil
			})
		},
	}
	sybil := &cobra.Command{
		Use:   "sybil <agent>",
		Short: "Show the sybil resistance score",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.SybilScore(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(rep)
			})
		},
	}
	t.AddCommand(show, sybil)
	return t
}

func rewardsCmd() *cobra.Command {
	r := &cobra.Command{Use: "rewards", Short: "Cooperation credits"}

	var limit int
	list := &cobra.Command{
		Use:   "list <agent>",
		Short: "List credits and totals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sum, err := e.CooperationSummary(ctx, args[0])
				if err != nil {
					return err
				}
				credits, err := e.ListCredits(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"summary": sum, "credits": credits})
				}
				fmt.Printf("%s: %d points, %s monetary, %d credits\n", sum.AgentID, sum.TotalPoints, sum.TotalMonetary.String(), sum.CreditCount)
				tw := newTable("Type", "Points", "Reference", "At")
				for _, c := range credits {
					tw.AppendRow(table.Row{c.RewardType, c.Points, c.Reference, c.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "max credits")

	var in engine.CreditInput
	var monetary string
	credit := &cobra.Command{
		Use:   "credit <agent>",
		Short: "Append a cooperation credit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if monetary != "" {
				m, err := parseDecimal("monetary", monetary)
				if err != nil {
					return err
				}
				in.MonetaryReward = &m
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in.AgentID = args[0]
				in.ActorID = actorID()
				c, err := e.Credit(ctx, in)
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	}
	credit.Flags().StringVar(&in.RewardType, "type", domain.RewardNetworkContribution, "reward type")
	credit.Flags().IntVar(&in.Points, "points", 0, "points")
	credit.Flags().StringVar(&monetary, "monetary", "", "monetary reward")
	credit.Flags().StringVar(&in.Reference, "reference", "", "deduplication reference")

	r.AddCommand(list, credit)
	return r
}

func decayCmd() *cobra.Command {
	d := &cobra.Command{Use: "decay", Short: "Reputation decay"}
	d.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run one decay pass over active agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.RunDecayPass(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				fmt.Printf("scanned %d agents, refreshed %d clocks, wrote %d snapshots\n", rep.AgentsScanned, rep.ClocksRefreshed, rep.SnapshotsWritten)
				return nil
			})
		},
	})
	return d
}

func snapshotsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "snapshots <agent>",
		Short: "List reputation snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListSnapshots(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("At", "Score", "Trust", "Decay", "Window")
				for _, s := range items {
					tw.AppendRow(table.Row{s.SnapshotAt, s.ReputationScore, s.TrustLevel, s.DecayApplied, s.WindowStart})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max snapshots")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}

	var owner, name string
	var scopes []string
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key (printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				owner = actorID()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, plain, err := e.CreateAPIKey(ctx, owner, name, scopes)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "scopes": key.Scopes, "key": plain})
				}
				fmt.Printf("API key for %s (%s): %s\n", key.ActorID, strings.Join(key.Scopes, ","), plain)
				return nil
			})
		},
	}
	create.Flags().StringVar(&owner, "actor", "", "key owner (defaults to --actor-id)")
	create.Flags().StringVar(&name, "name", "", "key label")
	create.Flags().StringSliceVar(&scopes, "scope", nil, "permission scope (repeatable, default admin)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys for an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				owner = actorID()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.ListAPIKeys(ctx, owner)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "Name", "Scopes", "Created")
				for _, key := range keys {
					tw.AppendRow(table.Row{key.ID, key.Name, strings.Join(key.Scopes, ","), key.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&owner, "actor", "", "key owner (defaults to --actor-id)")

	revoke := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RevokeAPIKey(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Printf("revoked %s\n", args[0])
				return nil
			})
		},
	}

	k.AddCommand(create, list, revoke)
	return k
}

func parseDecimal(field, v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid --%s %q", field, v)
	}
	return d, nil
}
