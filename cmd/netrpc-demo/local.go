package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/f0mster/netrpc/client"
	registrymemory "github.com/f0mster/netrpc/pkg/registry/memory"
	"github.com/f0mster/netrpc/pkg/server"
	"github.com/f0mster/netrpc/pkg/transport/memory"
)

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Run server and client in process over the memory transport",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLocal(cmd.OutOrStdout())
	},
}

func runLocal(out io.Writer) error {
	tr := memory.New(cfg.AcceptTimeout, memory.WithLogger(log))
	defer tr.Close()
	reg := registrymemory.New()
	desc := NewStorageDescriptor()

	c, err := client.NewClient(client.Config{Transport: tr, Registry: reg, Logger: log, ChunkSize: cfg.ChunkSize})
	if err != nil {
		return err
	}

	var srv *server.Server
	var result error
	srv, err = server.NewServer(server.Config{
		Registry:  reg,
		Logger:    log,
		ChunkSize: cfg.ChunkSize,
		AfterStart: func() error {
			go func() {
				result = exercise(c, desc.Name, out)
				_ = srv.Stop()
			}()
			return nil
		},
	}, server.WithTransport(tr))
	if err != nil {
		return err
	}
	if err := srv.Register(desc, newStore()); err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	return result
}

func exercise(c *client.Client, service string, out io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.CallTimeout)
	defer cancel()
	if err := c.WaitForServiceStarted(ctx, service); err != nil {
		return err
	}
	desc := NewStorageDescriptor()

	reply, err := client.Invoke[string](ctx, c, desc, "Ping", "local")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, reply)

	body := bytes.Repeat([]byte("netrpc "), 100000)
	var last int64
	st, err := client.Invoke[*Stat](ctx, c, desc, "Put", "greeting", bytes.NewReader(body), func(n int64) error {
		last = n
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "put %s: %d bytes, last progress %d\n", st.Name, st.Size, last)

	rc, err := client.Invoke[io.ReadCloser](ctx, c, desc, "Get", "greeting")
	if err != nil {
		return err
	}
	n, err := io.Copy(io.Discard, rc)
	_ = rc.Close()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "get greeting: %d bytes\n", n)

	_, err = client.Invoke[io.ReadCloser](ctx, c, desc, "Get", "missing")
	var nf *NotFound
	if !errors.As(err, &nf) {
		return fmt.Errorf("expected NotFound, got %v", err)
	}
	fmt.Fprintln(out, "get missing:", nf)

	stats, err := client.Invoke[[]Stat](ctx, c, desc, "List")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "list: %d blobs\n", len(stats))
	return nil
}
