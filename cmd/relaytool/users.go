package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/bardlex/gomp-relay/internal/auth"
	"github.com/bardlex/gomp-relay/internal/database/redis"
	"github.com/bardlex/gomp-relay/pkg/log"
)

// userAdmin is the part of the Redis client the user commands need
type userAdmin interface {
	UserID(ctx context.Context, key, user string) (uint64, error)
	AuthorizeUser(ctx context.Context, key, user string, id uint64) error
	RevokeUser(ctx context.Context, key, user string) (bool, error)
	Close() error
}

// openUserStore connects to the authorised-users store; replaced in tests
var openUserStore = func(ctx context.Context, url string) (userAdmin, error) {
	cfg, err := redis.ConfigFromURL(url)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(ctx, cfg)
}

// storeFlags are shared by every command that touches Redis
type storeFlags struct {
	url string
	key string
}

func (f *storeFlags) register(cmd *cobra.Command) {
	defaultURL := os.Getenv("REDIS_URL")
	if defaultURL == "" {
		defaultURL = "redis://localhost:6379/0"
	}
	cmd.Flags().StringVar(&f.url, "redis-url", defaultURL, "Redis URL (default from REDIS_URL)")
	cmd.Flags().StringVar(&f.key, "key", auth.DefaultUsersKey, "authorised-users hash key")
}

func (f *storeFlags) open(cmd *cobra.Command) (userAdmin, context.Context, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	store, err := openUserStore(ctx, f.url)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return store, ctx, cancel, nil
}

func checkAuthCmd() *cobra.Command {
	var flags storeFlags

	cmd := &cobra.Command{
		Use:   "checkauth <user>",
		Short: "Check whether a miner is authorised",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, ctx, cancel, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			defer store.Close()

			authenticator := auth.NewAuthenticator(store, flags.key, log.Discard())
			if authenticator.CheckUserAuth(ctx, []byte(args[0]), nil) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: authorised\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: not authorised\n", args[0])
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func authorizeCmd() *cobra.Command {
	var flags storeFlags

	cmd := &cobra.Command{
		Use:   "authorize <user> [id]",
		Short: "Authorise a miner, optionally with an explicit non-zero id",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := uint64(1)
			if len(args) == 2 {
				parsed, err := strconv.ParseUint(args[1], 10, 64)
				if err != nil || parsed == 0 {
					return fmt.Errorf("id must be a positive integer, got %q", args[1])
				}
				id = parsed
			}

			store, ctx, cancel, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			defer store.Close()

			if err := store.AuthorizeUser(ctx, flags.key, args[0], id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: authorised with id %d\n", args[0], id)
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func revokeCmd() *cobra.Command {
	var flags storeFlags

	cmd := &cobra.Command{
		Use:   "revoke <user>",
		Short: "Remove a miner from the authorised-users hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, ctx, cancel, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			defer store.Close()

			removed, err := store.RevokeUser(ctx, flags.key, args[0])
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: was not authorised\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: revoked\n", args[0])
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}
