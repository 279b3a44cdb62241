// Package codegen writes Go contract interfaces and descriptors for the
// services of an annotated proto file.
package codegen

import (
	"bytes"
	"fmt"
	"go/format"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/f0mster/netrpc/pkg/contract"
)

// Generate writes the contracts of protoPath to outFile. pkg defaults to the
// proto package name.
func Generate(protoPath, outFile, pkg string) error {
	services, err := contract.LoadProto(protoPath)
	if err != nil {
		return err
	}
	log.Debugf("%s: %d services", protoPath, len(services))
	if dir := filepath.Dir(outFile); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	f, err := os.Create(outFile)
	if err != nil {
		return fmt.Errorf(`file "%s" create error: %w`, outFile, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Errorf("output file close error: %s", err)
		}
	}()
	log.Infof("writing output file: %s", outFile)
	return Write(f, filepath.Base(protoPath), pkg, services)
}

// Write renders services as gofmt-ed Go source.
func Write(w io.Writer, source, pkg string, services []contract.ProtoService) error {
	if len(services) == 0 {
		return fmt.Errorf("%s: no services", source)
	}
	if pkg == "" {
		pkg = services[0].Package
	}
	pkg = strings.ReplaceAll(pkg, ".", "_")
	if pkg == "" {
		return fmt.Errorf("%s: package name required", source)
	}
	for _, svc := range services {
		for _, m := range svc.Methods {
			if m.Post && m.StreamsReturns {
				return fmt.Errorf("%s.%s: @post rpc cannot stream its result", svc.Name, m.Name)
			}
		}
	}
	var buf bytes.Buffer
	if err := render(&buf, data{Source: source, Package: pkg, Services: services}); err != nil {
		return err
	}
	src, err := format.Source(buf.Bytes())
	if err != nil {
		return fmt.Errorf("format generated code: %w", err)
	}
	_, err = w.Write(src)
	return err
}
