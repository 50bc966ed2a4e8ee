package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
)

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "download a logical path to a local file",
		ArgsUsage: "PATH LOCAL-FILE",
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 2 {
				return fail(c, fmt.Errorf("PATH and LOCAL-FILE are required"))
			}
			path, local := c.Args().Get(0), c.Args().Get(1)
			s, err := newSession(c)
			if err != nil {
				return fail(c, err)
			}

			loc, err := s.pm.WhereToRead(s.ctx, path)
			if err != nil {
				return fail(c, err)
			}
			chunk := loc[0]

			src, err := os.Open(s.fs.LocalPath(chunk.Path))
			if err != nil {
				return fail(c, err)
			}
			defer src.Close()

			dst, err := os.Create(local)
			if err != nil {
				return fail(c, err)
			}
			defer dst.Close()

			if _, err := io.Copy(dst, src); err != nil {
				return fail(c, err)
			}
			return nil
		},
	}
}
