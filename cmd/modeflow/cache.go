package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/RichLycus/ProjekUtama-sub000/internal/cache"
	"github.com/RichLycus/ProjekUtama-sub000/internal/orchestrator"
)

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the result cache",
		Long: `Operates on the configured backend. The memory backend lives only as long
as one process, so these commands are mostly useful with sqlite or redis.`,
	}

	withCache := func(fn func(cmd *cobra.Command, rc *cache.ResultCache) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			rc, err := orchestrator.OpenCache(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rc.Close()
			return fn(cmd, rc)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: withCache(func(cmd *cobra.Command, rc *cache.ResultCache) error {
			st := rc.GetStats(cmd.Context())
			if jsonOut {
				return printJSON(st)
			}
			fmt.Println(titleStyle.Render("Result cache") + dimStyle.Render("  "+st.Backend))
			fmt.Println(row("entries", fmt.Sprintf("%d / %d", st.TotalEntries, st.MaxEntries)))
			fmt.Println(row("average ttl", st.AverageTTL.Round(time.Second).String()))
			if !st.Oldest.IsZero() {
				fmt.Println(row("oldest", st.Oldest.Local().Format(time.DateTime)))
				fmt.Println(row("newest", st.Newest.Local().Format(time.DateTime)))
			}
			tiers := make([]string, 0, len(st.ByTier))
			for t := range st.ByTier {
				tiers = append(tiers, t)
			}
			sort.Strings(tiers)
			for _, t := range tiers {
				fmt.Println(row("tier "+t, fmt.Sprintf("%d", st.ByTier[t])))
			}
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired entries",
		RunE: withCache(func(cmd *cobra.Command, rc *cache.ResultCache) error {
			n := rc.CleanupExpired(cmd.Context())
			fmt.Println(row("removed", fmt.Sprintf("%d", n)))
			return nil
		}),
	})

	var tier string
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove all entries, or only one tier's",
		RunE: withCache(func(cmd *cobra.Command, rc *cache.ResultCache) error {
			n := rc.Clear(cmd.Context(), tier)
			fmt.Println(row("removed", fmt.Sprintf("%d", n)))
			return nil
		}),
	}
	clearCmd.Flags().StringVar(&tier, "tier", "", "only clear this tier")
	cmd.AddCommand(clearCmd)

	return cmd
}

func handlersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "handlers",
		Short: "List registered step handlers and their config keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			reg := eng.Registry()
			var infos []any
			for _, name := range reg.List() {
				info, err := reg.Info(name)
				if err != nil {
					return err
				}
				if jsonOut {
					infos = append(infos, info)
					continue
				}
				keys := ""
				if info.Schema != nil {
					for _, k := range info.Schema.Required {
						keys += k + "* "
					}
					for _, k := range info.Schema.Optional {
						keys += k + " "
					}
				}
				fmt.Println(row(name, info.Description))
				if keys != "" {
					fmt.Println(row("", dimStyle.Render(keys)))
				}
			}
			if jsonOut {
				return printJSON(infos)
			}
			return nil
		},
	}
}
