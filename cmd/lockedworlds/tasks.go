package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lockedworlds/lockedworlds/tasks"
)

// taskCommands returns the task:* commands.
func (a *app) taskCommands() []*cobra.Command {
	address := &cobra.Command{
		Use:   "task:address",
		Short: "Print the LockedWorlds address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, _, closeEnv, err := a.env(cmd.Context())
			if err != nil {
				return err
			}
			defer closeEnv()
			return env.Address(cmd.Context())
		},
	}

	claim := a.targetCommand("task:claim", "Claim the three encrypted keys",
		func(cmd *cobra.Command, env *tasks.Env, t tasks.Target, _ string) error {
			return env.Claim(cmd.Context(), t)
		}, false)

	useKey := a.targetCommand("task:use-key", "Use a key and decrypt its reward and the updated balance",
		func(cmd *cobra.Command, env *tasks.Env, t tasks.Target, index string) error {
			return env.UseKey(cmd.Context(), t, index)
		}, true)

	key := a.targetCommand("task:key", "Decrypt the attribute and reward of a key",
		func(cmd *cobra.Command, env *tasks.Env, t tasks.Target, index string) error {
			return env.Key(cmd.Context(), t, index)
		}, true)

	balance := a.targetCommand("task:balance", "Decrypt the coin balance",
		func(cmd *cobra.Command, env *tasks.Env, t tasks.Target, _ string) error {
			return env.Balance(cmd.Context(), t)
		}, false)

	return []*cobra.Command{address, claim, useKey, key, balance}
}

type taskFunc func(cmd *cobra.Command, env *tasks.Env, t tasks.Target, index string) error

// targetCommand builds a task taking --address and --player, plus a
// required --index when withIndex is set. The index is checked before
// connecting to the network.
func (a *app) targetCommand(use, short string, fn taskFunc, withIndex bool) *cobra.Command {
	var (
		target tasks.Target
		index  string
	)
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if withIndex {
				if _, err := tasks.ParseIndex(index); err != nil {
					return fmt.Errorf("%w: %w", errUsage, err)
				}
			}
			env, _, closeEnv, err := a.env(cmd.Context())
			if err != nil {
				return err
			}
			defer closeEnv()
			return fn(cmd, env, target, index)
		},
	}
	cmd.Flags().StringVar(&target.Address, "address", "", "LockedWorlds contract address (default from deployments)")
	cmd.Flags().StringVar(&target.Player, "player", "", "player account (default first account)")
	if withIndex {
		cmd.Flags().StringVar(&index, "index", "", "key index: 0, 1 or 2")
		if err := cmd.MarkFlagRequired("index"); err != nil {
			panic(err)
		}
	}
	return cmd
}
