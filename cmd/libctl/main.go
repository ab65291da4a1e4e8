// Command libctl edits a library workspace on a library server. Edits are
// applied to a local cache first and reconciled with the server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/stevemurr/library-sync/cache"
	"github.com/stevemurr/library-sync/config"
	"github.com/stevemurr/library-sync/library"
	"github.com/stevemurr/library-sync/logging"
	"github.com/stevemurr/library-sync/model"
	"github.com/stevemurr/library-sync/notify"
	"github.com/stevemurr/library-sync/reconcile"
	"github.com/stevemurr/library-sync/remote"
	"github.com/stevemurr/library-sync/view"
)

const usage = `usage: libctl [flags] <command> [args]

commands:
  list                              show collections
  create <name> [description]       create a collection
  rename <collection> <name>        rename a collection
  delete <collection>...            delete collections
  add <collection> <item>...        add items to a collection
  remove <collection> <item>...     remove items from a collection
  move <item> <from> <to>           move an item between collections
  reorder <collection>...           put collections first, in this order
  members <collection>              show the items of a collection
  cache-clear                       drop every cached workspace

A collection may be given by id or by its unique name.

flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

type app struct {
	lib    *library.Library
	list   *view.List
	cache  cache.Cache
	notes  *notify.Recorder
	logger *zap.Logger
	stdout io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("libctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "config file path")
	serverURL := fs.String("server", "", "library server url (overrides config)")
	workspace := fs.String("workspace", "", "workspace id (overrides config)")
	cacheBackend := fs.String("cache", "", "cache backend: sqlite, json, redis, memory (overrides config)")
	cacheDir := fs.String("cache-dir", "", "cache directory (overrides config)")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	override(&cfg.Client.ServerURL, *serverURL)
	override(&cfg.Client.Workspace, *workspace)
	override(&cfg.Cache.Backend, *cacheBackend)
	override(&cfg.Cache.Dir, *cacheDir)

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, nil)
	if err != nil {
		fmt.Fprintln(stderr, "init logger:", err)
		return 1
	}
	defer logger.Sync()

	a, err := newApp(cfg, logger, stdout)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer a.cache.Close()

	err = a.dispatch(ctx, cfg.Client.Workspace, fs.Arg(0), fs.Args()[1:])
	a.lib.Wait()
	for _, n := range a.notes.Drain() {
		fmt.Fprintln(stderr, n)
	}
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		if errors.Is(err, errUsage) {
			return 2
		}
		return 1
	}
	return 0
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func newApp(cfg *config.Config, logger *zap.Logger, stdout io.Writer) (*app, error) {
	c, err := cache.New(cache.Options{
		Backend:       cfg.Cache.Backend,
		Dir:           cfg.Cache.Dir,
		RedisAddr:     cfg.Cache.RedisAddr,
		RedisPassword: cfg.Cache.RedisPassword,
		RedisDB:       cfg.Cache.RedisDB,
		KeyPrefix:     cfg.Cache.KeyPrefix,
		TTL:           cfg.Cache.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	client, err := remote.New(remote.Options{
		BaseURL:    cfg.Client.ServerURL,
		Timeout:    cfg.Client.Timeout,
		MaxRetries: cfg.Client.MaxRetries,
		RetryDelay: cfg.Client.RetryDelay,
		Logger:     logger.Named("remote"),
	})
	if err != nil {
		c.Close()
		return nil, err
	}

	notes := &notify.Recorder{}
	lib, err := library.New(library.Options{
		Remote:          client,
		Cache:           c,
		CacheBackend:    cfg.Cache.Backend,
		Notifier:        notes,
		Logger:          logger,
		RevalidateOnHit: cfg.Client.Revalidate,
		FetchLimit:      cfg.Client.FetchLimit,
		BulkLimit:       cfg.Client.BulkLimit,
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	return &app{
		lib:    lib,
		list:   view.NewList(lib),
		cache:  c,
		notes:  notes,
		logger: logger,
		stdout: stdout,
	}, nil
}

var errUsage = errors.New("bad arguments")

func need(args []string, n int, form string) error {
	if len(args) < n {
		return fmt.Errorf("%w: expected %s", errUsage, form)
	}
	return nil
}

func (a *app) dispatch(ctx context.Context, workspace, cmd string, args []string) error {
	if cmd == "cache-clear" {
		if err := a.cache.Clear(ctx); err != nil {
			return err
		}
		fmt.Fprintln(a.stdout, "cache cleared")
		return nil
	}

	if err := a.lib.Open(ctx, workspace); err != nil {
		return err
	}

	switch cmd {
	case "list":
		a.refresh(ctx)
		return a.list.Render(a.stdout)

	case "create":
		if err := need(args, 1, "create <name> [description]"); err != nil {
			return err
		}
		draft := model.CollectionDraft{Name: args[0]}
		if len(args) > 1 {
			draft.Description = strings.Join(args[1:], " ")
		}
		c, err := a.lib.CreateCollection(ctx, draft)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "created %s (%s)\n", c.Name, c.ID)

	case "rename":
		if err := need(args, 2, "rename <collection> <name>"); err != nil {
			return err
		}
		id, err := a.resolve(args[0])
		if err != nil {
			return err
		}
		if err := a.lib.RenameCollection(ctx, id, strings.Join(args[1:], " ")); err != nil {
			return err
		}

	case "delete":
		if err := need(args, 1, "delete <collection>..."); err != nil {
			return err
		}
		for _, arg := range args {
			id, err := a.resolve(arg)
			if err != nil {
				return err
			}
			a.list.ToggleCollection(id)
		}
		res, err := a.list.DeleteSelected(ctx)
		a.report(res)
		if err != nil {
			return err
		}

	case "add", "remove":
		if err := need(args, 2, cmd+" <collection> <item>..."); err != nil {
			return err
		}
		id, err := a.resolve(args[0])
		if err != nil {
			return err
		}
		if cmd == "add" {
			err = a.lib.AddMembers(ctx, id, args[1:]...)
		} else {
			err = a.lib.RemoveMembers(ctx, id, args[1:]...)
		}
		if err != nil {
			return err
		}

	case "move":
		if err := need(args, 3, "move <item> <from> <to>"); err != nil {
			return err
		}
		from, err := a.resolve(args[1])
		if err != nil {
			return err
		}
		to, err := a.resolve(args[2])
		if err != nil {
			return err
		}
		if err := a.lib.MoveMember(ctx, args[0], from, to); err != nil {
			return err
		}

	case "reorder":
		if err := need(args, 1, "reorder <collection>..."); err != nil {
			return err
		}
		ids := make([]string, 0, len(args))
		for _, arg := range args {
			id, err := a.resolve(arg)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		res, err := a.lib.ReorderCollections(ctx, ids)
		a.report(res)
		if err != nil {
			return err
		}

	case "members":
		if err := need(args, 1, "members <collection>"); err != nil {
			return err
		}
		a.refresh(ctx)
		id, err := a.resolve(args[0])
		if err != nil {
			return err
		}
		return a.list.RenderMembers(a.stdout, id)

	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}

	return a.list.Render(a.stdout)
}

// refresh brings a cache-served workspace up to date before it is shown.
// When the server is unreachable the cached state is shown as is.
func (a *app) refresh(ctx context.Context) {
	if err := a.lib.Refresh(ctx); err != nil {
		a.logger.Debug("showing cached workspace", zap.Error(err))
	}
}

// resolve maps a collection id or unique name to an id.
func (a *app) resolve(ref string) (string, error) {
	if _, ok := a.lib.Collection(ref); ok {
		return ref, nil
	}
	snap, ok := a.lib.Snapshot()
	if !ok {
		return "", reconcile.ErrNotLoaded
	}
	switch named := snap.CollectionsNamed(ref); len(named) {
	case 0:
		return "", fmt.Errorf("%w: %s", library.ErrUnknownCollection, ref)
	case 1:
		return named[0].ID, nil
	default:
		return "", fmt.Errorf("%d collections are named %q, use an id", len(named), ref)
	}
}

func (a *app) report(res reconcile.BulkResult) {
	if res.Failed > 0 {
		a.logger.Debug("bulk result", zap.Int("succeeded", res.Succeeded), zap.Int("failed", res.Failed))
		for item, err := range res.Errors {
			fmt.Fprintf(a.stdout, "failed %s: %v\n", item, err)
		}
	}
}
