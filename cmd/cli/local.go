package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"archimap/internal/auth"
	"archimap/internal/cache"
	"archimap/internal/catalog"
	"archimap/internal/remotedb"
	"archimap/internal/search"
	"archimap/pkg/models"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Load the database and print its status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLoader(cmd.Context(), func(ctx context.Context, l *remotedb.Loader) error {
			printJSON(cmd.OutOrStdout(), l.Status())
			return nil
		})
	},
}

var listQuery catalog.ListQuery

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search buildings",
	Long: `Searches titles, architects and addresses. Full-width and half-width input
match the same buildings.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := listQuery
		if len(args) == 1 {
			q.Search = args[0]
		}
		return withLoader(cmd.Context(), func(ctx context.Context, l *remotedb.Loader) error {
			svc := search.NewService(l, cache.NewMemory(time.Minute), search.Options{
				MaxQueryRunes: cfg.Search.MaxQueryRunes,
				Logger:        logger.Named("search"),
			})
			defer svc.Close()

			page, err := svc.Search(ctx, q)
			if err != nil {
				return err
			}
			printPage(cmd.OutOrStdout(), page)
			return nil
		})
	},
}

var buildingCmd = &cobra.Command{
	Use:   "building <id>",
	Short: "Show one building with its references",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid building id %q", args[0])
		}
		return withLoader(cmd.Context(), func(ctx context.Context, l *remotedb.Loader) error {
			return catalog.With(ctx, l, func(ctx context.Context, r *catalog.Repo) error {
				b, err := r.Get(ctx, id)
				if err != nil {
					return err
				}
				if b == nil {
					return fmt.Errorf("building %d not found", id)
				}
				printJSON(cmd.OutOrStdout(), b)
				return nil
			})
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print counts by prefecture, category and decade",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLoader(cmd.Context(), func(ctx context.Context, l *remotedb.Loader) error {
			return catalog.With(ctx, l, func(ctx context.Context, r *catalog.Repo) error {
				st, err := r.Stats(ctx)
				if err != nil {
					return err
				}
				printJSON(cmd.OutOrStdout(), st)
				return nil
			})
		})
	},
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Print a bcrypt hash for auth.adminPasswordHash",
	Long:  `Reads the password from the argument, or from the first line of stdin.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var pw string
		if len(args) == 1 {
			pw = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			pw = strings.TrimRight(line, "\r\n")
		}
		hash, err := auth.HashPassword(pw)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	f := searchCmd.Flags()
	f.StringVar(&listQuery.Prefecture, "prefecture", "", "prefecture filter")
	f.StringVar(&listQuery.Category, "category", "", "category filter")
	f.StringVar(&listQuery.Architect, "architect", "", "architect filter")
	f.IntVar(&listQuery.YearFrom, "year-from", 0, "earliest year")
	f.IntVar(&listQuery.YearTo, "year-to", 0, "latest year")
	f.StringVar((*string)(&listQuery.Sort), "sort", string(catalog.SortIDAsc), "sort key")
	f.IntVar(&listQuery.Page, "page", 1, "page number")
	f.IntVar(&listQuery.Limit, "limit", catalog.DefaultLimit, "page size")
}

// withLoader loads the configured database and runs fn against it.
func withLoader(parent context.Context, fn func(ctx context.Context, l *remotedb.Loader) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	dbCfg := remotedb.ConfigFrom(cfg.Database, logger.Named("remotedb"))
	dbCfg.ReadyTimeout = timeout
	l := remotedb.New(dbCfg)
	defer l.Close()

	if err := l.Load(ctx); err != nil {
		return fmt.Errorf("load %s: %w", cfg.Database.ReadSource(), err)
	}
	return fn(ctx, l)
}

func printPage(w io.Writer, p *search.Page) {
	fmt.Fprintf(w, "%d results (page %d/%d)\n", p.Total, p.Page, max(p.TotalPages, 1))
	for _, b := range p.Items {
		fmt.Fprintln(w, formatBuilding(b))
	}
	if p.Query != "" {
		fmt.Fprintf(w, "\n?%s\n", p.Query)
	}
}

func formatBuilding(b models.Building) string {
	year := "----"
	if b.Year != nil {
		year = strconv.Itoa(*b.Year)
	}
	architect := b.Architect
	if architect == "" {
		architect = models.UnknownArchitect
	}
	return fmt.Sprintf("%5d  %s  %s / %s (%s)", b.ID, year, b.Name, architect, b.Prefecture)
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json: %v\n", err)
	}
}
