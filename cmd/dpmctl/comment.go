package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

func getCommentCommand() *cli.Command {
	return &cli.Command{
		Name:      "getcomment",
		Usage:     "print a path's comment",
		ArgsUsage: "PATH",
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 1 {
				return fail(c, fmt.Errorf("PATH is required"))
			}
			s, err := newSession(c)
			if err != nil {
				return fail(c, err)
			}
			text, err := s.cat.GetComment(s.ctx, c.Args().First())
			if err != nil {
				return fail(c, err)
			}
			fmt.Fprintln(c.App.Writer, text)
			return nil
		},
	}
}

func setCommentCommand() *cli.Command {
	return &cli.Command{
		Name:      "setcomment",
		Usage:     "set a path's comment",
		ArgsUsage: "PATH TEXT",
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 2 {
				return fail(c, fmt.Errorf("PATH and TEXT are required"))
			}
			s, err := newSession(c)
			if err != nil {
				return fail(c, err)
			}
			if err := s.cat.SetComment(s.ctx, c.Args().First(), c.Args().Get(1)); err != nil {
				return fail(c, err)
			}
			return nil
		},
	}
}
