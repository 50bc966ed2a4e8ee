package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

func rmCommand() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "remove a file or empty directory",
		ArgsUsage: "PATH",
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 1 {
				return fail(c, fmt.Errorf("PATH is required"))
			}
			s, err := newSession(c)
			if err != nil {
				return fail(c, err)
			}
			path := c.Args().First()
			st, err := s.cat.ExtendedStat(s.ctx, path, false)
			if err != nil {
				return fail(c, err)
			}
			if st.IsDir() {
				err = s.cat.RemoveDir(s.ctx, path)
			} else {
				err = s.cat.Unlink(s.ctx, path)
			}
			if err != nil {
				return fail(c, err)
			}
			return nil
		},
	}
}
