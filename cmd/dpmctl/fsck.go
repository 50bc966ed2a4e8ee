// fsck walks the namespace and cross-checks every regular file's
// replicas against the backing pool storage, reporting replicas whose
// physical file is missing. It is the CLI counterpart to the teacher's
// own consistency checker, generalized from juicefs's slice/block
// reconciliation to this system's inode/replica model, with the same
// progress-bar-while-scanning feel via vbauerster/mpb/v7.
package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"

	"github.com/dpmgo/dpmgo/pkg/inode"
	"github.com/dpmgo/dpmgo/pkg/security"
)

type brokenReplica struct {
	path      string
	replicaID int64
	rfn       string
}

func fsckCommand() *cli.Command {
	return &cli.Command{
		Name:      "fsck",
		Usage:     "check consistency of replicas against pool storage",
		ArgsUsage: "[ROOT-PATH]",
		Action: func(c *cli.Context) error {
			root := "/"
			if c.Args().Len() >= 1 {
				root = c.Args().First()
			}
			s, err := newSession(c)
			if err != nil {
				return fail(c, err)
			}

			var paths []string
			if err := walkNames(s.cat, s.ctx, root, &paths); err != nil {
				return fail(c, err)
			}

			progress := mpb.New(mpb.WithWidth(60))
			bar := progress.AddBar(int64(len(paths)),
				mpb.PrependDecorators(decor.Name("scanning replicas")),
				mpb.AppendDecorators(decor.CountersNoUnit("%d / %d"), decor.Percentage()),
			)

			var broken []brokenReplica
			for _, p := range paths {
				st, err := s.cat.ExtendedStat(s.ctx, p, false)
				if err == nil && st.IsRegular() {
					reps, err := s.cat.GetReplicas(s.ctx, p)
					if err == nil {
						for _, r := range reps {
							if r.Status != inode.ReplicaAvailable {
								continue
							}
							if !s.fs.IsReplicaAvailable(r) {
								broken = append(broken, brokenReplica{path: p, replicaID: r.ReplicaID, rfn: r.RFN})
							}
						}
					}
				}
				bar.Increment()
				time.Sleep(time.Millisecond) // let the bar render on very small trees
			}
			progress.Wait()

			if len(broken) == 0 {
				fmt.Fprintln(c.App.Writer, "no broken replicas found")
				return nil
			}
			fmt.Fprintf(c.App.Writer, "%d broken replicas:\n", len(broken))
			for _, b := range broken {
				fmt.Fprintf(c.App.Writer, "%13d: %s (%s)\n", b.replicaID, b.path, b.rfn)
			}
			return cli.Exit("", 1)
		},
	}
}

// walkNames recursively collects every path under root, depth-first,
// appending to paths in place.
func walkNames(cat interface {
	ReadDir(ctx security.Context, path string) ([]inode.ExtendedStat, error)
}, ctx security.Context, root string, paths *[]string) error {
	entries, err := cat.ReadDir(ctx, root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		full := root
		if full != "/" {
			full += "/"
		}
		full += e.Name
		*paths = append(*paths, full)
		if e.IsDir() {
			if err := walkNames(cat, ctx, full, paths); err != nil {
				return err
			}
		}
	}
	return nil
}
