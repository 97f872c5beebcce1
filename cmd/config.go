package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	cfgpkg "github.com/KaramelBytes/bmpopt/internal/config"
)

var secretKeys = map[string]bool{"solver_api_key": true, "database_url": true}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or set bmpopt configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			fmt.Println("No config loaded")
			return nil
		}
		for _, key := range cfgpkg.Keys() {
			v, err := cfg.Get(key)
			if err != nil {
				return err
			}
			if secretKeys[key] {
				v = mask(v)
			}
			fmt.Printf("%s: %s\n", key, v)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value and save to disk",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]
		// Reload from disk so flag overrides are not persisted
		c, err := cfgpkg.Load(cfgFile)
		if err != nil {
			return err
		}
		if err := c.Set(key, val); err != nil {
			return err
		}
		if err := cfgpkg.Save(c, cfgFile); err != nil {
			return err
		}
		cfg = c
		fmt.Println("Saved config")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 6 {
		return "******"
	}
	return s[:3] + "****" + s[len(s)-3:]
}
