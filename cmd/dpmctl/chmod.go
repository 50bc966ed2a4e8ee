package main

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"
)

func chmodCommand() *cli.Command {
	return &cli.Command{
		Name:      "chmod",
		Usage:     "change a path's permission bits",
		ArgsUsage: "PATH MODE",
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 2 {
				return fail(c, fmt.Errorf("PATH and MODE are required"))
			}
			mode, err := strconv.ParseUint(c.Args().Get(1), 8, 32)
			if err != nil {
				return fail(c, fmt.Errorf("invalid mode %q: %w", c.Args().Get(1), err))
			}
			s, err := newSession(c)
			if err != nil {
				return fail(c, err)
			}
			if err := s.cat.SetMode(s.ctx, c.Args().First(), uint32(mode)); err != nil {
				return fail(c, err)
			}
			return nil
		},
	}
}
