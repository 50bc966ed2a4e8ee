// Command dpmctl is the reference CLI (§6): a thin urfave/cli wrapper
// that mirrors the POSIX commands (ls, stat, mkdir, rm, mv, chmod,
// chown, getcomment, setcomment, getreplicas, addreplica, put, get,
// fsck) against the logical namespace, exiting 0 on success, 1 on a
// user-visible error, 2 on a system error — the same three-way split
// the teacher's own CLI entry point uses.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/dpmgo/dpmgo/pkg/catalog"
	"github.com/dpmgo/dpmgo/pkg/inode"
	"github.com/dpmgo/dpmgo/pkg/pool"
	"github.com/dpmgo/dpmgo/pkg/pool/drivers/fsdriver"
	"github.com/dpmgo/dpmgo/pkg/security"
	"github.com/dpmgo/dpmgo/pkg/status"
	"github.com/dpmgo/dpmgo/pkg/utils"
)

var logger = utils.GetLogger("dpmctl")

// session bundles the components a single CLI invocation needs: a
// catalog over the configured inode store, a pool manager wired to the
// default filesystem pool, and the caller's resolved identity.
type session struct {
	cat *catalog.Catalog
	pm  *pool.Manager
	fs  *fsdriver.Driver
	ctx security.Context
}

func newSession(c *cli.Context) (*session, error) {
	var store inode.Store
	switch dsn := c.String("db"); {
	case dsn == "" || dsn == "mem://":
		store = inode.NewMemStore()
	case hasPrefix(dsn, "sqlite://"):
		s, err := inode.OpenSQLite(dsn[len("sqlite://"):])
		if err != nil {
			return nil, err
		}
		store = s
	case hasPrefix(dsn, "mysql://"):
		s, err := inode.OpenMySQL(dsn[len("mysql://"):])
		if err != nil {
			return nil, err
		}
		store = s
	default:
		return nil, fmt.Errorf("unrecognized --db %q", dsn)
	}

	cat := catalog.New(store, catalog.Config{SymlinkLimit: c.Int("symlink-limit")})

	tokens := security.NewTokenAuthority(c.String("token-password"))
	mgr := pool.New(cat, tokens, pool.ManagerConfig{DefaultPool: c.String("pool")})
	drv := fsdriver.New(c.String("pool-dir"), c.String("hostname"))
	mgr.RegisterDriver(drv)
	mgr.AddPool(pool.Info{Name: c.String("pool"), DriverType: drv.Type()})

	ctx := security.Context{
		User:   security.UserInfo{UID: uint32(c.Uint("uid"))},
		Groups: []security.GroupInfo{{GID: uint32(c.Uint("gid"))}},
	}
	return &session{cat: cat, pm: mgr, fs: drv, ctx: ctx}, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// exitCode maps a status.Code to the three-way exit taxonomy of §6.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	switch status.FromError(err).Code.Category() {
	case status.CategorySystem, status.CategoryDatabase:
		return 2
	default:
		return 1
	}
}

func fail(c *cli.Context, err error) error {
	fmt.Fprintln(c.App.ErrWriter, err)
	return cli.Exit("", exitCode(err))
}

func main() {
	app := &cli.App{
		Name:  "dpmctl",
		Usage: "command-line client for a dpmgo namespace",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Usage: "inode store DSN: mem://, sqlite://path, mysql://dsn", EnvVars: []string{"DPMGO_DB"}},
			&cli.IntFlag{Name: "symlink-limit", Value: catalog.DefaultSymlinkLimit},
			&cli.UintFlag{Name: "uid", Value: 0},
			&cli.UintFlag{Name: "gid", Value: 0},
			&cli.StringFlag{Name: "pool", Value: "default"},
			&cli.StringFlag{Name: "pool-dir", Value: os.TempDir() + "/dpmgo-pool"},
			&cli.StringFlag{Name: "hostname", Value: "localhost"},
			&cli.StringFlag{Name: "token-password", Value: "dpmctl-dev-secret", EnvVars: []string{"DPMGO_TOKEN_PASSWORD"}},
		},
		Commands: []*cli.Command{
			lsCommand(),
			statCommand(),
			mkdirCommand(),
			rmCommand(),
			mvCommand(),
			chmodCommand(),
			chownCommand(),
			getCommentCommand(),
			setCommentCommand(),
			getReplicasCommand(),
			addReplicaCommand(),
			putCommand(),
			getCommand(),
			fsckCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		logger.Error(err)
		os.Exit(exitCode(err))
	}
}
