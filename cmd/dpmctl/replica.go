package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/dpmgo/dpmgo/pkg/inode"
)

func getReplicasCommand() *cli.Command {
	return &cli.Command{
		Name:      "getreplicas",
		Usage:     "list a file's replicas",
		ArgsUsage: "PATH",
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 1 {
				return fail(c, fmt.Errorf("PATH is required"))
			}
			s, err := newSession(c)
			if err != nil {
				return fail(c, err)
			}
			reps, err := s.cat.GetReplicas(s.ctx, c.Args().First())
			if err != nil {
				return fail(c, err)
			}
			for _, r := range reps {
				fmt.Fprintf(c.App.Writer, "%d\t%c\t%c\t%s\t%s/%s\t%s\n", r.ReplicaID, r.Status, r.Type, r.Host, r.Pool, r.FS, r.RFN)
			}
			return nil
		},
	}
}

func addReplicaCommand() *cli.Command {
	return &cli.Command{
		Name:      "addreplica",
		Usage:     "register a replica for a path",
		ArgsUsage: "PATH HOST POOL FS RFN",
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 5 {
				return fail(c, fmt.Errorf("PATH HOST POOL FS RFN are all required"))
			}
			s, err := newSession(c)
			if err != nil {
				return fail(c, err)
			}
			r := inode.Replica{
				Status: inode.ReplicaAvailable,
				Type:   inode.ReplicaPermanent,
				Host:   c.Args().Get(1),
				Pool:   c.Args().Get(2),
				FS:     c.Args().Get(3),
				RFN:    c.Args().Get(4),
			}
			added, err := s.cat.AddReplica(s.ctx, c.Args().First(), r)
			if err != nil {
				return fail(c, err)
			}
			fmt.Fprintf(c.App.Writer, "replica id %d\n", added.ReplicaID)
			return nil
		},
	}
}
