package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/f0mster/netrpc/client"
	"github.com/f0mster/netrpc/pkg/metadata"
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Call the storage service",
}

// withClient runs fn with a client over the configured transport.
func withClient(fn func(ctx context.Context, c *client.Client) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.CallTimeout)
	defer cancel()
	tr, closeTransport, err := newClientTransport(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeTransport()
	c, err := client.NewClient(client.Config{
		Transport:   tr,
		Logger:      log,
		ChunkSize:   cfg.ChunkSize,
		CancelGrace: cfg.CancelGrace,
	})
	if err != nil {
		return err
	}
	ctx = metadata.NewContext(ctx, metadata.Metadata{"x-client": "netrpc-demo"})
	return fn(ctx, c)
}

func init() {
	desc := NewStorageDescriptor()

	callCmd.AddCommand(&cobra.Command{
		Use:   "ping MESSAGE",
		Args:  cobra.ExactArgs(1),
		Short: "Echo a message",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				reply, err := client.Invoke[string](ctx, c, desc, "Ping", args[0])
				if err != nil {
					return err
				}
				fmt.Println(reply)
				return nil
			})
		},
	})

	callCmd.AddCommand(&cobra.Command{
		Use:   "put NAME FILE",
		Args:  cobra.ExactArgs(2),
		Short: "Upload a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			return withClient(func(ctx context.Context, c *client.Client) error {
				progress := func(n int64) error {
					zl.Debug().Int64("received", n).Msg("upload progress")
					return nil
				}
				st, err := client.Invoke[*Stat](ctx, c, desc, "Put", args[0], f, progress)
				if err != nil {
					return err
				}
				fmt.Printf("%s: %d bytes\n", st.Name, st.Size)
				return nil
			})
		},
	})

	getCmd := &cobra.Command{
		Use:   "get NAME",
		Args:  cobra.ExactArgs(1),
		Short: "Download a blob to stdout or a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("output")
			return withClient(func(ctx context.Context, c *client.Client) error {
				rc, err := client.Invoke[io.ReadCloser](ctx, c, desc, "Get", args[0])
				if err != nil {
					return err
				}
				defer rc.Close()
				var w io.Writer = os.Stdout
				if out != "" {
					f, err := os.Create(out)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				_, err = io.Copy(w, rc)
				return err
			})
		},
	}
	getCmd.Flags().StringP("output", "o", "", "write to file instead of stdout")
	callCmd.AddCommand(getCmd)

	callCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List blobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				stats, err := client.Invoke[[]Stat](ctx, c, desc, "List")
				if err != nil {
					return err
				}
				for _, st := range stats {
					fmt.Printf("%s\t%d\n", st.Name, st.Size)
				}
				return nil
			})
		},
	})

	callCmd.AddCommand(&cobra.Command{
		Use:   "drop NAME",
		Args:  cobra.ExactArgs(1),
		Short: "Delete a blob without waiting",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				_, err := c.Invoke(ctx, desc, "Drop", args[0])
				return err
			})
		},
	})
}
