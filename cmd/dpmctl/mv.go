package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

func mvCommand() *cli.Command {
	return &cli.Command{
		Name:      "mv",
		Usage:     "rename or move a path",
		ArgsUsage: "OLD NEW",
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 2 {
				return fail(c, fmt.Errorf("OLD and NEW are required"))
			}
			s, err := newSession(c)
			if err != nil {
				return fail(c, err)
			}
			if err := s.cat.Rename(s.ctx, c.Args().Get(0), c.Args().Get(1)); err != nil {
				return fail(c, err)
			}
			return nil
		},
	}
}
