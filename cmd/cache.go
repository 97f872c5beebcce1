package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/bmpopt/internal/repository"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the reference-table snapshot cache",
}

var cacheBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Read every reference table from the source and refresh the cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := currentConfig()
		if err != nil {
			return err
		}
		repo, err := newRepository(cmd.Context())
		if err != nil {
			return err
		}
		defer repo.Close()
		if err := repo.Build(cmd.Context()); err != nil {
			return err
		}
		cache, err := newCache(c)
		if err != nil {
			return err
		}
		snap := repo.Snapshot()
		if err := cache.Save(cmd.Context(), snap); err != nil {
			return fmt.Errorf("save cache: %w", err)
		}
		fmt.Printf("✓ Cached %d tables from %s (%s)\n", len(snap.Tables), snap.Meta.Source, c.CacheBackend)
		return nil
	},
}

var cacheShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the cached snapshot metadata",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := currentConfig()
		if err != nil {
			return err
		}
		cache, err := newCache(c)
		if err != nil {
			return err
		}
		snap, err := cache.Load(cmd.Context())
		if errors.Is(err, repository.ErrCacheMiss) {
			fmt.Println("(no cached snapshot)")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("backend: %s\n", c.CacheBackend)
		fmt.Printf("source: %s\n", snap.Meta.Source)
		fmt.Printf("fingerprint: %s\n", snap.Meta.Fingerprint)
		fmt.Printf("created_at: %s\n", snap.Meta.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("tables (%d): %s\n", len(snap.Tables), strings.Join(snap.Meta.Tables, ", "))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheBuildCmd)
	cacheCmd.AddCommand(cacheShowCmd)
}
