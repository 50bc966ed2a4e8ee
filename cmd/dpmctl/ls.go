package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

func lsCommand() *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "list a directory",
		ArgsUsage: "PATH",
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 1 {
				return fail(c, fmt.Errorf("PATH is required"))
			}
			s, err := newSession(c)
			if err != nil {
				return fail(c, err)
			}
			entries, err := s.cat.ReadDir(s.ctx, c.Args().First())
			if err != nil {
				return fail(c, err)
			}
			for _, e := range entries {
				fmt.Fprintf(c.App.Writer, "%s\t%6d\t%04o\t%s\n", modeLetter(e), e.Size, e.Mode&0777, e.Name)
			}
			return nil
		},
	}
}
