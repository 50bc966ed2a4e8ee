package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
)

func putCommand() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "upload a local file to a logical path",
		ArgsUsage: "LOCAL-FILE PATH",
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 2 {
				return fail(c, fmt.Errorf("LOCAL-FILE and PATH are required"))
			}
			local, path := c.Args().Get(0), c.Args().Get(1)
			s, err := newSession(c)
			if err != nil {
				return fail(c, err)
			}

			loc, err := s.pm.WhereToWrite(s.ctx, path, 0644)
			if err != nil {
				return fail(c, err)
			}
			chunk := loc[0]
			putID := chunk.Query.GetString("putRequestId", "")

			src, err := os.Open(local)
			if err != nil {
				return fail(c, err)
			}
			defer src.Close()

			dst, err := os.Create(s.fs.LocalPath(chunk.Path))
			if err != nil {
				return fail(c, err)
			}
			if _, err := io.Copy(dst, src); err != nil {
				dst.Close()
				return fail(c, err)
			}
			dst.Close()

			replicas, err := s.cat.GetReplicas(s.ctx, path)
			if err != nil {
				return fail(c, err)
			}
			if len(replicas) == 0 {
				return fail(c, fmt.Errorf("no replica recorded for %s after whereToWrite", path))
			}

			if err := s.pm.DoneWriting(s.ctx, path, replicas[len(replicas)-1].ReplicaID, c.String("pool"), putID); err != nil {
				return fail(c, err)
			}
			return nil
		},
	}
}
