package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lendbridge/contactsync/client"
	"github.com/lendbridge/contactsync/internal/device"
	"github.com/lendbridge/contactsync/internal/model"
	"github.com/lendbridge/contactsync/internal/syncqueue"
)

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Read the device contacts export and store a fresh snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				snapshot, err := c.ScanDeviceContacts(ctx)
				if err != nil {
					return err
				}
				st := c.GetStats()
				fmt.Fprintf(cmd.OutOrStdout(), "Scanned %d contacts, %d available to import\n", len(snapshot), st.AvailableToImport)
				return nil
			})
		},
	}
}

func newImportCmd() *cobra.Command {
	var ids []string
	var rescan bool

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import device contacts missing from the repertoire",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if rescan {
					if _, err := c.ScanDeviceContacts(ctx); err != nil {
						return err
					}
				}
				progress := func(p client.ImportProgress) {
					log.Info().Int("processed", p.Processed).Int("total", p.Total).Msg("import progress")
				}
				start := time.Now()
				var report *client.ImportReport
				var err error
				if len(ids) > 0 {
					report, err = c.ImportSelected(ctx, ids, progress)
				} else {
					report, err = c.ImportAll(ctx, progress)
				}
				if err != nil {
					return err
				}
				log.Debug().Dur("elapsed", time.Since(start)).Msg("import completed")
				return printJSON(cmd, report)
			})
		},
	}

	cmd.Flags().StringSliceVar(&ids, "ids", nil, "Device contact ids to import (default: all)")
	cmd.Flags().BoolVar(&rescan, "rescan", false, "Scan the device before importing")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show repertoire and invitation statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				return printJSON(cmd, c.GetStats())
			})
		},
	}
}

func newAddCmd() *cobra.Command {
	var name, phone, email string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a contact to the repertoire",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				e, err := c.AddContact(ctx, name, phone, email)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Contact added: %s - %s\n", e.Phone, e.Name)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&phone, "phone", "", "Phone number in any common format (required)")
	cmd.Flags().StringVar(&email, "email", "", "Email (optional)")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <phone-or-id>",
		Short: "Remove a contact from the repertoire",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if err := c.RemoveContact(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Contact removed: %s\n", args[0])
				return nil
			})
		},
	}
}

func newInviteCmd() *cobra.Command {
	var name, channel string

	cmd := &cobra.Command{
		Use:   "invite <phone>",
		Short: "Send or relaunch an invitation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				inv, err := c.SendInvitation(ctx, args[0], name, model.Channel(channel))
				if err != nil {
					return err
				}
				if inv.RetryCount > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Invitation relaunched: %s (retry %d, code %s)\n", inv.ID, inv.RetryCount, inv.ReferralCode)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Invitation sent: %s (code %s)\n", inv.ID, inv.ReferralCode)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Invitee name (defaults to the repertoire name)")
	cmd.Flags().StringVar(&channel, "channel", string(model.ChannelSMS), "sms or whatsapp")
	return cmd
}

func newUninviteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninvite <invitation-id>",
		Short: "Cancel an invitation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				inv, err := c.CancelInvitation(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Invitation %s: %s\n", inv.ID, inv.Status)
				return nil
			})
		},
	}
}

func newPullCmd() *cobra.Command {
	var bridged bool

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Merge the remote collection into the repertoire",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				added, updated, err := c.PullRemote(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pulled: %d added, %d updated\n", added, updated)
				if !bridged {
					return nil
				}
				marked, err := c.RefreshBridged(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Bridged users newly flagged: %d\n", marked)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&bridged, "bridged", true, "Also refresh bridged-user flags")
	return cmd
}

type statusView struct {
	Pending    int                   `json:"pending"`
	InProgress int                   `json:"inProgress"`
	Failed     []syncqueue.Operation `json:"failed"`
	Rejected   []syncqueue.Operation `json:"rejected"`
	LastSyncAt time.Time             `json:"lastSyncAt,omitzero"`
	LastScan   time.Time             `json:"lastScan,omitzero"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the sync queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			prev := syncTimeout
			syncTimeout = 0
			defer func() { syncTimeout = prev }()
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				st := c.SyncState()
				return printJSON(cmd, statusView{
					Pending:    len(st.Pending),
					InProgress: len(st.InProgress),
					Failed:     st.Failed,
					Rejected:   st.Rejected,
					LastSyncAt: st.LastSyncAt,
					LastScan:   c.LastScan(),
				})
			})
		},
	}
}

func newRetryCmd() *cobra.Command {
	var discard bool

	cmd := &cobra.Command{
		Use:   "retry [operation-id]",
		Short: "Retry rejected operations (all, or one by id)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if len(args) == 0 {
					if discard {
						return fmt.Errorf("--discard needs an operation id")
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Retrying %d rejected operations\n", c.RetryRejected())
					return nil
				}
				if discard {
					if err := c.DiscardOperation(args[0]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Operation discarded: %s\n", args[0])
					return nil
				}
				if err := c.RetryOperation(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Operation retried: %s\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&discard, "discard", false, "Drop the operation instead of retrying it")
	return cmd
}

func newWatchCmd() *cobra.Command {
	var autoImport bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rescan whenever the device export changes and keep syncing until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.DeviceExportPath == "" {
				return device.ErrNoSource
			}
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				unsubscribe := c.SubscribeSyncState(func(st syncqueue.SyncState) {
					log.Debug().Int("pending", len(st.Pending)).Int("failed", len(st.Failed)).
						Int("rejected", len(st.Rejected)).Bool("paused", st.Paused).Msg("sync state")
				})
				defer unsubscribe()

				rescan := func() {
					if _, err := c.ScanDeviceContacts(ctx); err != nil {
						log.Warn().Err(err).Msg("rescan failed")
						return
					}
					st := c.GetStats()
					log.Info().Int("contacts", st.TotalContacts).Int("available", st.AvailableToImport).Msg("device contacts changed")
					if !autoImport || st.AvailableToImport == 0 {
						return
					}
					report, err := c.ImportAll(ctx, nil)
					if err != nil {
						log.Warn().Err(err).Msg("auto import failed")
						return
					}
					log.Info().Int("succeeded", report.Succeeded).Int("failed", len(report.Errors)).Msg("auto import finished")
				}
				rescan()

				log.Info().Str("path", cfg.DeviceExportPath).Msg("watching device export")
				err := device.Watch(ctx, cfg.DeviceExportPath, device.DefaultDebounce, log, rescan)
				if err != nil && ctx.Err() == nil {
					return err
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&autoImport, "auto-import", false, "Import new contacts after every rescan")
	return cmd
}
