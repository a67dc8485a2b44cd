package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/aibot/internal/config"
	"github.com/nextlevelbuilder/aibot/internal/settings"
	"github.com/nextlevelbuilder/aibot/internal/store"
)

type scopeFlags struct {
	guild, channel, role, member string
}

func (f *scopeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.guild, "guild", "", "guild id (omit for global scope)")
	cmd.Flags().StringVar(&f.channel, "channel", "", "channel id (requires --guild)")
	cmd.Flags().StringVar(&f.role, "role", "", "role id (requires --guild)")
	cmd.Flags().StringVar(&f.member, "member", "", "user id (requires --guild)")
}

func (f *scopeFlags) scope() (store.Scope, error) {
	var sc store.Scope
	switch {
	case f.channel != "":
		sc = store.Channel(f.guild, f.channel)
	case f.role != "":
		sc = store.Role(f.guild, f.role)
	case f.member != "":
		sc = store.Member(f.guild, f.member)
	case f.guild != "":
		sc = store.Guild(f.guild)
	default:
		sc = store.Global()
	}
	return sc, sc.Validate()
}

// withSettings opens the configured store for a one-shot CLI command.
func withSettings(ctx context.Context, fn func(*settings.Service) error) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	st, err := openSettingsStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open settings store: %w", err)
	}
	defer st.Close()
	return fn(settings.New(st, cfg.SettingsDefaults()))
}

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and edit stored bot settings",
	}
	cmd.AddCommand(settingsShowCmd())
	cmd.AddCommand(settingsSetCmd())
	cmd.AddCommand(settingsUnsetCmd())
	cmd.AddCommand(settingsWhitelistCmd())
	return cmd
}

func settingsShowCmd() *cobra.Command {
	var f scopeFlags
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print every key stored in a scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := f.scope()
			if err != nil {
				return err
			}
			return withSettings(cmd.Context(), func(svc *settings.Service) error {
				vals, err := svc.Store().Load(cmd.Context(), sc)
				if err != nil {
					return err
				}
				keys := make([]string, 0, len(vals))
				for k := range vals {
					keys = append(keys, k)
				}
				sort.Strings(keys)

				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "SCOPE\t%s\n", sc)
				for _, k := range keys {
					fmt.Fprintf(tw, "%s\t%s\n", k, vals[k])
				}
				return tw.Flush()
			})
		},
	}
	f.register(cmd)
	return cmd
}

func settingsSetCmd() *cobra.Command {
	var f scopeFlags
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a key; the value is parsed as JSON, falling back to a plain string",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := f.scope()
			if err != nil {
				return err
			}
			key, value := args[0], parseValue(args[1])
			return withSettings(cmd.Context(), func(svc *settings.Service) error {
				switch key {
				case settings.KeyReplyPercent:
					var pct float64
					if err := json.Unmarshal(value, &pct); err != nil {
						return fmt.Errorf("reply percent must be a number: %w", err)
					}
					return svc.SetReplyPercent(cmd.Context(), sc, &pct)
				case settings.KeyIgnoreRegex:
					var pattern string
					if err := json.Unmarshal(value, &pattern); err != nil {
						return fmt.Errorf("ignore regex must be a string: %w", err)
					}
					return svc.SetIgnoreRegex(cmd.Context(), sc.GuildID, pattern)
				}
				if err := svc.SetValue(cmd.Context(), sc, key, value); err != nil {
					return err
				}
				fmt.Printf("%s %s = %s\n", sc, key, value)
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func settingsUnsetCmd() *cobra.Command {
	var f scopeFlags
	cmd := &cobra.Command{
		Use:   "unset <key>",
		Short: "Remove a key so lookups fall through to the next scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := f.scope()
			if err != nil {
				return err
			}
			return withSettings(cmd.Context(), func(svc *settings.Service) error {
				return svc.DeleteValue(cmd.Context(), sc, args[0])
			})
		},
	}
	f.register(cmd)
	return cmd
}

func settingsWhitelistCmd() *cobra.Command {
	var remove bool
	cmd := &cobra.Command{
		Use:   "whitelist <guild-id> <channel-id>",
		Short: "Add (or with --remove, drop) a channel the bot may talk in",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSettings(cmd.Context(), func(svc *settings.Service) error {
				var changed bool
				var err error
				if remove {
					changed, err = svc.RemoveChannel(cmd.Context(), args[0], args[1])
				} else {
					changed, err = svc.AddChannel(cmd.Context(), args[0], args[1])
				}
				if err != nil {
					return err
				}
				if !changed {
					fmt.Println("nothing to change")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&remove, "remove", false, "remove the channel instead")
	return cmd
}

// parseValue keeps valid JSON as-is and quotes anything else.
func parseValue(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, _ := json.Marshal(s)
	return quoted
}

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models the configured endpoint serves",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			models, err := newProvider(cfg, cfg.Provider.APIBase, 0).ListModels(cmd.Context())
			if err != nil {
				return err
			}
			for _, m := range models {
				marker := " "
				if m == cfg.Provider.Model {
					marker = "*"
				}
				fmt.Printf("%s %s\n", marker, m)
			}
			return nil
		},
	}
}

func eraseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "erase <user-id>",
		Short: "Delete every member-scope setting of a user (data erasure request)",
		Long: "Delete every member-scope setting of a user from the settings store.\n\n" +
			"A running bot also keeps recent messages in memory. Use /aibot erase in\n" +
			"Discord to drop those as well.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSettings(cmd.Context(), func(svc *settings.Service) error {
				if err := svc.ClearMember(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Printf("erased stored data for %s\n", args[0])
				return nil
			})
		},
	}
}
