package codegen

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/f0mster/netrpc/pkg/contract"
)

const calcProto = `syntax = "proto3";
package calc;

message DivideReq { int64 a = 1; int64 b = 2; }
message DivideResp { int64 value = 1; }
message FileReq { string name = 1; }
message Empty {}

service Calculator {
  // Divide divides a by b.
  // @fault 1 DivideByZero 400
  rpc Divide(DivideReq) returns (DivideResp);
  // @post
  rpc notify_all(Empty) returns (Empty);
  rpc Download(FileReq) returns (stream Empty);
  rpc Upload(stream FileReq) returns (Empty);
}
`

func TestWrite(t *testing.T) {
	services, err := contract.ParseProto(strings.NewReader(calcProto))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, Write(&out, "calc.proto", "", services))
	src := out.String()

	require.Contains(t, src, "package calc")
	require.Contains(t, src, `"io"`)
	require.Contains(t, src, "Divide(ctx context.Context, req *DivideReq) (*DivideResp, error)")
	require.Contains(t, src, "NotifyAll(ctx context.Context, req *Empty) error")
	require.Contains(t, src, "Download(ctx context.Context, req *FileReq) (io.ReadCloser, error)")
	require.Contains(t, src, "Upload(ctx context.Context, req *FileReq, body io.Reader) (*Empty, error)")
	require.Contains(t, src, `{Code: "1", Kind: "DivideByZero", StatusCode: 400}`)
	require.Contains(t, src, "func NewCalculatorDescriptor(kinds *fault.Registry) (*contract.Descriptor, error)")
	require.Contains(t, src, "// Divide divides a by b.")
}

func TestWriteWithoutStreams(t *testing.T) {
	services := []contract.ProtoService{{
		Package: "acme.v1",
		Name:    "Pinger",
		Methods: []contract.ProtoMethod{{Name: "Ping", Request: "acme.v1.PingReq", Response: "PingResp"}},
	}}
	var out bytes.Buffer
	require.NoError(t, Write(&out, "ping.proto", "", services))
	require.Contains(t, out.String(), "package acme_v1")
	require.NotContains(t, out.String(), `"io"`)
	require.Contains(t, out.String(), "Ping(ctx context.Context, req *PingReq) (*PingResp, error)")
}

func TestWriteRejects(t *testing.T) {
	require.Error(t, Write(&bytes.Buffer{}, "empty.proto", "x", nil))

	services := []contract.ProtoService{{
		Name:    "Bad",
		Methods: []contract.ProtoMethod{{Name: "Push", Request: "A", Response: "B", Post: true, StreamsReturns: true}},
	}}
	require.Error(t, Write(&bytes.Buffer{}, "bad.proto", "x", services))
}

func TestGenerate(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "calc.proto")
	require.NoError(t, os.WriteFile(in, []byte(calcProto), 0644))
	out := filepath.Join(dir, "gen", "calc.rpc.go")

	require.NoError(t, Generate(in, out, "calcapi"))
	src, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Contains(t, string(src), "package calcapi")
	require.True(t, strings.HasPrefix(string(src), "// Code generated by netrpc-contract from calc.proto. DO NOT EDIT."))
}

func TestToCamelCase(t *testing.T) {
	require.Equal(t, "NotifyAll", toCamelCase("notify_all"))
	require.Equal(t, "PingReq", toCamelCase("PingReq"))
	require.Equal(t, "pinger", toLowerFirst("Pinger"))
}
