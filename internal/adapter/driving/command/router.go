// Package command implements the chat command surface
// "repos <add|remove|assign|unassign|list|fetch|enable|disable|push>" on top
// of the repository registry.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/repowatch/internal/application"
	"github.com/ericfisherdev/repowatch/internal/domain/model"
	"github.com/ericfisherdev/repowatch/internal/domain/port/driven"
)

// Prefix is the first word of every command handled by the Router.
const Prefix = "repos"

// ErrNotACommand is returned for text that does not start with Prefix.
var ErrNotACommand = errors.New("not a repos command")

// Command is one inbound chat command.
type Command struct {
	Sender  string
	IsAdmin bool
	Text    string
}

// Registry is the subset of the application registry the router drives.
type Registry interface {
	Add(ctx context.Context, actor application.Actor, fullName string) (model.Repository, error)
	Remove(ctx context.Context, actor application.Actor, fullName string) error
	Assign(ctx context.Context, actor application.Actor, fullName, channel string) error
	Unassign(ctx context.Context, actor application.Actor, fullName, channel string) error
	SetEnabled(ctx context.Context, actor application.Actor, fullName string, enabled bool) error
	SetPush(ctx context.Context, actor application.Actor, fullName string, push bool) error
	List(ctx context.Context) ([]model.RepositoryListing, error)
}

// Refresher triggers an immediate poll; an empty name polls every repository.
type Refresher interface {
	RefreshRepo(ctx context.Context, repoFullName string) error
}

// Router parses command text and executes it against the registry.
type Router struct {
	registry       Registry
	refresher      Refresher
	refreshTimeout time.Duration
	logger         *slog.Logger
}

// NewRouter creates a Router. refreshTimeout bounds how long "repos fetch"
// waits for the poll to finish.
func NewRouter(registry Registry, refresher Refresher, refreshTimeout time.Duration, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry:       registry,
		refresher:      refresher,
		refreshTimeout: refreshTimeout,
		logger:         logger,
	}
}

// Handle executes cmd and returns the reply to post back. On failure the reply
// describes the problem for the user and the error is returned alongside it.
func (r *Router) Handle(ctx context.Context, cmd Command) (string, error) {
	fields := strings.Fields(cmd.Text)
	if len(fields) == 0 || fields[0] != Prefix {
		return "", ErrNotACommand
	}

	actor := application.Actor{Name: cmd.Sender, IsAdmin: cmd.IsAdmin}

	var out bytes.Buffer
	root := r.newRootCmd(actor)
	root.SetArgs(fields[1:])
	root.SetOut(&out)
	root.SetErr(&out)

	err := root.ExecuteContext(ctx)
	if err != nil {
		r.logger.Info("command rejected", "sender", cmd.Sender, "text", cmd.Text, "error", err)
		return replyFor(err), err
	}

	r.logger.Info("command executed", "sender", cmd.Sender, "text", cmd.Text)
	return strings.TrimRight(out.String(), "\n"), nil
}

// newRootCmd builds a fresh command tree per invocation; cobra commands carry
// per-execution state and are not safe to share between goroutines.
func (r *Router) newRootCmd(actor application.Actor) *cobra.Command {
	root := &cobra.Command{
		Use:           Prefix,
		Short:         "Manage the repositories watched for new commits, issues and pull requests",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		r.addCmd(actor),
		r.removeCmd(actor),
		r.assignCmd(actor),
		r.unassignCmd(actor),
		r.listCmd(),
		r.fetchCmd(actor),
		r.enableCmd(actor, "enable", true),
		r.enableCmd(actor, "disable", false),
		r.pushCmd(actor),
	)
	return root
}

func (r *Router) addCmd(actor application.Actor) *cobra.Command {
	return &cobra.Command{
		Use:   "add <owner/name>",
		Short: "Start watching a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := r.registry.Add(cmd.Context(), actor, args[0])
			if err != nil {
				return err
			}
			cmd.Printf("Now watching %s.\n", repo.FullName)
			return nil
		},
	}
}

func (r *Router) removeCmd(actor application.Actor) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <owner/name>",
		Short: "Stop watching a repository and drop its channel assignments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := r.registry.Remove(cmd.Context(), actor, args[0]); err != nil {
				return err
			}
			cmd.Printf("Stopped watching %s.\n", args[0])
			return nil
		},
	}
}

func (r *Router) assignCmd(actor application.Actor) *cobra.Command {
	return &cobra.Command{
		Use:   "assign <owner/name> <channel>",
		Short: "Announce a repository's events in a channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := r.registry.Assign(cmd.Context(), actor, args[0], args[1]); err != nil {
				return err
			}
			cmd.Printf("%s will be announced in %s.\n", args[0], args[1])
			return nil
		},
	}
}

func (r *Router) unassignCmd(actor application.Actor) *cobra.Command {
	return &cobra.Command{
		Use:   "unassign <owner/name> <channel>",
		Short: "Stop announcing a repository's events in a channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := r.registry.Unassign(cmd.Context(), actor, args[0], args[1]); err != nil {
				return err
			}
			cmd.Printf("%s will no longer be announced in %s.\n", args[0], args[1])
			return nil
		},
	}
}

func (r *Router) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List watched repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			listings, err := r.registry.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(listings) == 0 {
				cmd.Println("No repositories are being watched.")
				return nil
			}
			for _, l := range listings {
				channels := "no channels"
				if len(l.Channels) > 0 {
					channels = strings.Join(l.Channels, ", ")
				}
				cmd.Printf("%s (%s): %s\n", l.FullName, l.State(), channels)
			}
			return nil
		},
	}
}

func (r *Router) fetchCmd(actor application.Actor) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch [owner/name]",
		Short: "Poll one repository, or all of them, right now",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !actor.IsAdmin {
				return fmt.Errorf("%s: %w", actor.Name, application.ErrUnauthorized)
			}

			var name string
			if len(args) == 1 {
				repo, err := model.NewRepository(args[0])
				if err != nil {
					return err
				}
				name = repo.FullName
			}

			ctx := cmd.Context()
			if r.refreshTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, r.refreshTimeout)
				defer cancel()
			}

			if err := r.refresher.RefreshRepo(ctx, name); err != nil {
				return err
			}
			if name == "" {
				cmd.Println("Polled all repositories.")
			} else {
				cmd.Printf("Polled %s.\n", name)
			}
			return nil
		},
	}
}

func (r *Router) enableCmd(actor application.Actor, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <owner/name>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " polling and announcements for a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := r.registry.SetEnabled(cmd.Context(), actor, args[0], enabled); err != nil {
				return err
			}
			cmd.Printf("%s is now %sd.\n", args[0], verb)
			return nil
		},
	}
}

func (r *Router) pushCmd(actor application.Actor) *cobra.Command {
	return &cobra.Command{
		Use:       "push <owner/name> <on|off>",
		Short:     "Mark a repository as delivering events by webhook instead of polling",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var push bool
			switch args[1] {
			case "on":
				push = true
			case "off":
			default:
				return fmt.Errorf("%w: %q", errInvalidToggle, args[1])
			}

			if err := r.registry.SetPush(cmd.Context(), actor, args[0], push); err != nil {
				return err
			}
			cmd.Printf("Push delivery for %s is %s.\n", args[0], args[1])
			return nil
		},
	}
}

var errInvalidToggle = errors.New("expected on or off")

// replyFor turns an error into the text shown to the user.
func replyFor(err error) string {
	switch {
	case errors.Is(err, application.ErrUnauthorized):
		return "Permission denied: this command requires admin privileges."
	case errors.Is(err, driven.ErrRepoNotFound):
		return "That repository is not registered."
	case errors.Is(err, driven.ErrRepoAlreadyExists):
		return "That repository is already registered."
	case errors.Is(err, application.ErrNotTracked):
		return "That repository is not being polled (unknown, disabled or push-delivered)."
	case errors.Is(err, model.ErrInvalidRepoName):
		return "Repository names must look like owner/name."
	case errors.Is(err, model.ErrInvalidChannel):
		return "Channel names must be non-empty and contain no spaces."
	case errors.Is(err, errInvalidToggle):
		return "Usage: repos push <owner/name> <on|off>"
	case errors.Is(err, application.ErrRefreshNotQueued):
		return "The poller is busy with another cycle and the poll did not start; try again shortly."
	case errors.Is(err, context.DeadlineExceeded):
		return "The poll is taking longer than expected; it will finish in the background."
	default:
		// cobra argument and unknown-command errors are already user-facing.
		return "Error: " + err.Error()
	}
}
