package main

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"
)

func mkdirCommand() *cli.Command {
	return &cli.Command{
		Name:      "mkdir",
		Usage:     "create a directory",
		ArgsUsage: "PATH [MODE]",
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 1 {
				return fail(c, fmt.Errorf("PATH is required"))
			}
			mode := uint64(0755)
			if c.Args().Len() >= 2 {
				var err error
				mode, err = strconv.ParseUint(c.Args().Get(1), 8, 32)
				if err != nil {
					return fail(c, fmt.Errorf("invalid mode %q: %w", c.Args().Get(1), err))
				}
			}
			s, err := newSession(c)
			if err != nil {
				return fail(c, err)
			}
			if _, err := s.cat.MakeDir(s.ctx, c.Args().First(), uint32(mode)); err != nil {
				return fail(c, err)
			}
			return nil
		},
	}
}
