package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"daycal/internal/calendar"
	"daycal/internal/claimstore"
	"daycal/internal/identity"
	appLog "daycal/internal/log"
	"daycal/internal/model"
	"daycal/internal/prefs"
	"daycal/internal/projection"
	"daycal/internal/remote"
)

const syncTimeout = 15 * time.Second

func newRemote(opts *RootOptions) (*remote.Client, error) {
	cc := opts.Config.Client
	if cc.Token == "" {
		return nil, errors.New("no client token configured (set client.token or DAYCAL_TOKEN)")
	}
	return remote.New(cc.Server, cc.Token)
}

// connect signs a claim store client in over the remote backend and waits
// until it mirrors the server.
func connect(ctx context.Context, opts *RootOptions, m calendar.Month) (*claimstore.Client, error) {
	rc, err := newRemote(opts)
	if err != nil {
		return nil, err
	}
	profiles, err := prefs.Open(opts.Config.Client.PrefsPath)
	if err != nil {
		return nil, fmt.Errorf("open profile prefs: %w", err)
	}

	id, err := rc.Me(ctx)
	if err != nil {
		return nil, err
	}

	cl := claimstore.New(rc, claimstore.Options{Profiles: profiles, Month: m})
	if err := cl.SignIn(ctx, id); err != nil {
		return nil, err
	}
	if _, err := cl.Await(ctx, nil); err != nil {
		cl.SignOut()
		return nil, err
	}
	return cl, nil
}

func monthArg(args []string) (calendar.Month, error) {
	if len(args) == 0 {
		return calendar.MonthOf(time.Now()), nil
	}
	return calendar.ParseMonth(args[0])
}

// NewClaimCommand creates the claim command.
func NewClaimCommand(rootOpts *RootOptions) *cobra.Command {
	var profile model.Profile

	cmd := &cobra.Command{
		Use:   "claim <YYYY-MM-DD>",
		Short: "Claim a day, replacing your previous claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date := args[0]
			day, err := calendar.ParseDate(date)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), syncTimeout)
			defer cancel()

			cl, err := connect(ctx, rootOpts, calendar.MonthOf(day))
			if err != nil {
				return err
			}
			defer cl.SignOut()

			if profile.DisplayName != "" {
				if err := cl.SaveProfile(ctx, profile); err != nil {
					return err
				}
			}
			if err := cl.SetClaim(ctx, date); err != nil {
				if errors.Is(err, claimstore.ErrProfileRequired) {
					return errors.New("no display name: pass --name once to save one")
				}
				return err
			}

			view, err := cl.Await(ctx, func(v projection.View) bool {
				return v.Own != nil && v.Own.Date == date
			})
			if err != nil {
				return err
			}
			return printView(cmd, rootOpts, view)
		},
	}

	cmd.Flags().StringVar(&profile.DisplayName, "name", "", "display name to save in your profile")
	cmd.Flags().StringVar(&profile.AvatarRef, "avatar", "", "avatar reference to save in your profile")
	return cmd
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Release your claimed day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), syncTimeout)
			defer cancel()

			cl, err := connect(ctx, rootOpts, calendar.MonthOf(time.Now()))
			if err != nil {
				return err
			}
			defer cl.SignOut()

			if err := cl.ClearClaim(ctx); err != nil {
				return err
			}
			view, err := cl.Await(ctx, func(v projection.View) bool { return v.Own == nil })
			if err != nil {
				return err
			}
			return printView(cmd, rootOpts, view)
		},
	}
}

// NewProfileCommand creates the profile command.
func NewProfileCommand(rootOpts *RootOptions) *cobra.Command {
	var profile model.Profile

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or update your display name and avatar",
		Long: `Without flags, prints the name and avatar your claims are written with.
With --name (and optionally --avatar), saves them locally and rewrites your
current claim so everyone sees the change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), syncTimeout)
			defer cancel()

			cl, err := connect(ctx, rootOpts, calendar.MonthOf(time.Now()))
			if err != nil {
				return err
			}
			defer cl.SignOut()

			if cmd.Flags().Changed("name") || cmd.Flags().Changed("avatar") {
				if err := cl.SaveProfile(ctx, profile); err != nil {
					return err
				}
			}

			p, _ := cl.Profile()
			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return writeJSONOut(out, p)
			}
			_, err = fmt.Fprintf(out, "name:   %s\navatar: %s\n", p.DisplayName, p.AvatarRef)
			return err
		},
	}

	cmd.Flags().StringVar(&profile.DisplayName, "name", "", "display name")
	cmd.Flags().StringVar(&profile.AvatarRef, "avatar", "", "avatar reference")
	return cmd
}

// NewMonthCommand creates the month command.
func NewMonthCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "month [YYYY-MM]",
		Short: "Print a month grid with everyone's claims",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := monthArg(args)
			if err != nil {
				return err
			}
			rc, err := newRemote(rootOpts)
			if err != nil {
				return err
			}
			view, err := rc.Calendar(cmd.Context(), m)
			if err != nil {
				return err
			}
			return printView(cmd, rootOpts, view)
		},
	}
}

// NewRosterCommand creates the roster command.
func NewRosterCommand(rootOpts *RootOptions) *cobra.Command {
	var fromFeed bool

	cmd := &cobra.Command{
		Use:   "roster",
		Short: "List every claim ordered by date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := newRemote(rootOpts)
			if err != nil {
				return err
			}

			var claims []model.Claim
			if fromFeed {
				claims, err = rc.Feed(cmd.Context())
			} else {
				claims, err = rc.Roster(cmd.Context())
			}
			if err != nil {
				return err
			}

			if rootOpts.Format == "json" {
				return writeJSONOut(cmd.OutOrStdout(), projection.RosterSortedByDate(claims))
			}
			return RenderRoster(cmd.OutOrStdout(), claims)
		},
	}

	cmd.Flags().BoolVar(&fromFeed, "ics", false, "read the roster from the calendar.ics feed")
	return cmd
}

// NewWatchCommand creates the watch command. It re-renders the month every
// time the server pushes a new claim set.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [YYYY-MM]",
		Short: "Follow the live claim set until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := monthArg(args)
			if err != nil {
				return err
			}
			rc, err := newRemote(rootOpts)
			if err != nil {
				return err
			}
			profiles, err := prefs.Open(rootOpts.Config.Client.PrefsPath)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			id, err := rc.Me(ctx)
			if err != nil {
				return err
			}

			cl := claimstore.New(rc, claimstore.Options{
				Profiles: profiles,
				Month:    m,
				OnChange: func(v projection.View) {
					if err := printView(cmd, rootOpts, v); err != nil {
						appLog.Error("render failed", err)
					}
				},
				OnState: func(s claimstore.State) {
					appLog.Info("sync state", "state", s.String())
				},
				OnError: func(err error) {
					appLog.Warn("sync problem", "error", err.Error())
				},
			})

			session := identity.NewSession()
			session.SignIn(id)

			err = cl.Run(ctx, session)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func printView(cmd *cobra.Command, opts *RootOptions, v projection.View) error {
	if opts.Format == "json" {
		return writeJSONOut(cmd.OutOrStdout(), v)
	}
	return RenderMonth(cmd.OutOrStdout(), v)
}
