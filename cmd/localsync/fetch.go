package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	syncerrors "github.com/devrev/pairdb/localsync/internal/errors"
	"github.com/devrev/pairdb/localsync/internal/model"
	"github.com/devrev/pairdb/localsync/internal/service"
	"github.com/devrev/pairdb/localsync/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type fetchOptions struct {
	strategy string
	where    []string
	require  []string
	limit    int
}

func newFetchCmd(configPath *string) *cobra.Command {
	var opts fetchOptions

	cmd := &cobra.Command{
		Use:   "fetch <table>",
		Short: "Resolve one query against the configured store and print the rows as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			st, closeStore, err := a.openStore(ctx)
			if err != nil {
				return fmt.Errorf("fetch: %w", err)
			}
			defer closeStore()
			a.svc.Attach(ctx, st)

			rows, err := fetchRows(ctx, a, args[0], opts)
			if err != nil {
				return fmt.Errorf("fetch: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		},
	}

	cmd.Flags().StringVar(&opts.strategy, "strategy", "request_once", "request_once or always_network")
	cmd.Flags().StringSliceVar(&opts.where, "where", nil, "equality filter as field=value, repeatable")
	cmd.Flags().StringSliceVar(&opts.require, "require", nil, "fields that trigger padding when missing")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "maximum number of rows")

	return cmd
}

func fetchRows(ctx context.Context, a *app, table string, opts fetchOptions) ([]model.Entity, error) {
	path, ok := a.index.RemotePath(table)
	if !ok {
		return nil, syncerrors.UnknownTable(table)
	}
	strategy, ok := service.ParseStrategy(opts.strategy)
	if !ok {
		return nil, syncerrors.InvalidArgument("invalid strategy: "+opts.strategy, nil)
	}

	desc := service.QueryDescriptor{
		Table:    table,
		Strategy: strategy,
		Query:    store.Query{Limit: opts.limit},
	}

	remote := url.Values{}
	for _, clause := range opts.where {
		field, value, found := strings.Cut(clause, "=")
		if !found || field == "" {
			return nil, syncerrors.InvalidArgument("invalid filter: "+clause, nil)
		}
		if desc.Query.Where == nil {
			desc.Query.Where = store.Predicate{}
		}
		desc.Query.Where[field] = value
		remote.Set(field, value)
	}
	desc.Fetch = a.client.Fetch(path, remote)

	if len(opts.require) > 0 {
		desc.Required = opts.require
		desc.Padding = a.client.FetchOne(path)
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Transport.Timeout)
	defer cancel()

	token, err := a.svc.Resolve(ctx, desc)
	if err != nil {
		return nil, err
	}
	defer token.Close()

	rows, err := token.Values(ctx)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("fetched rows", zap.String("table", table), zap.Int("count", len(rows)))
	return rows, nil
}
