package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"
)

func chownCommand() *cli.Command {
	return &cli.Command{
		Name:      "chown",
		Usage:     "change a path's owner (root-only) or group (root, or the owner to one of its groups)",
		ArgsUsage: "PATH UID[:GID]",
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 2 {
				return fail(c, fmt.Errorf("PATH and UID[:GID] are required"))
			}
			uidStr, gidStr, _ := strings.Cut(c.Args().Get(1), ":")
			uid, err := strconv.ParseUint(uidStr, 10, 32)
			if err != nil {
				return fail(c, fmt.Errorf("invalid uid %q: %w", uidStr, err))
			}
			s, err := newSession(c)
			if err != nil {
				return fail(c, err)
			}
			gid := uint64(s.ctx.PrimaryGID())
			if gidStr != "" {
				gid, err = strconv.ParseUint(gidStr, 10, 32)
				if err != nil {
					return fail(c, fmt.Errorf("invalid gid %q: %w", gidStr, err))
				}
			}
			if err := s.cat.SetOwner(s.ctx, c.Args().First(), uint32(uid), uint32(gid)); err != nil {
				return fail(c, err)
			}
			return nil
		},
	}
}
