package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/dpmgo/dpmgo/pkg/inode"
)

func modeLetter(st inode.ExtendedStat) string {
	switch {
	case st.IsDir():
		return "d"
	case st.IsSymlink():
		return "l"
	default:
		return "-"
	}
}

func statCommand() *cli.Command {
	return &cli.Command{
		Name:      "stat",
		Usage:     "show the extended stat of a path",
		ArgsUsage: "PATH",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-follow", Usage: "don't follow a trailing symlink"},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 1 {
				return fail(c, fmt.Errorf("PATH is required"))
			}
			s, err := newSession(c)
			if err != nil {
				return fail(c, err)
			}
			st, err := s.cat.ExtendedStat(s.ctx, c.Args().First(), !c.Bool("no-follow"))
			if err != nil {
				return fail(c, err)
			}
			fmt.Fprintf(c.App.Writer, "inode:   %d\n", st.Ino)
			fmt.Fprintf(c.App.Writer, "parent:  %d\n", st.Parent)
			fmt.Fprintf(c.App.Writer, "mode:    %s%04o\n", modeLetter(st), st.Mode&07777)
			fmt.Fprintf(c.App.Writer, "owner:   %d:%d\n", st.UID, st.GID)
			fmt.Fprintf(c.App.Writer, "size:    %d\n", st.Size)
			fmt.Fprintf(c.App.Writer, "nlink:   %d\n", st.Nlink)
			fmt.Fprintf(c.App.Writer, "mtime:   %s\n", st.Mtime)
			fmt.Fprintf(c.App.Writer, "guid:    %s\n", st.GUID)
			return nil
		},
	}
}
