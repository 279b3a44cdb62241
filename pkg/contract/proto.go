package contract

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/emicklei/proto"

	"github.com/f0mster/netrpc/pkg/fault"
)

type ProtoService struct {
	Package string
	Name    string
	Methods []ProtoMethod
}

type ProtoMethod struct {
	Name           string
	Request        string
	Response       string
	StreamsRequest bool
	StreamsReturns bool
	Post           bool
	Path           string
	Faults         []ProtoFault
	Comments       []string
}

type ProtoFault struct {
	Code       string
	Kind       string
	StatusCode int
}

var (
	rePost  = regexp.MustCompile(`^\s*\*?\s*@post\s*$`)
	rePath  = regexp.MustCompile(`^\s*\*?\s*@path\s+(\S+)\s*$`)
	reFault = regexp.MustCompile(`^\s*\*?\s*@fault\s+(\S+)\s+(\w+)(?:\s+(\d+))?\s*$`)
	reAny   = regexp.MustCompile(`^\s*\*?\s*@\w+`)
)

func LoadProto(path string) ([]ProtoService, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseProto(f)
}

// ParseProto reads services and their rpc annotations from a proto file:
//
//	// @post
//	// @path /calc/divide
//	// @fault 1 DivideByZero 400
func ParseProto(r io.Reader) ([]ProtoService, error) {
	definition, err := proto.NewParser(r).Parse()
	if err != nil {
		return nil, fmt.Errorf("parser error: %w", err)
	}
	pkg := ""
	var services []ProtoService
	var walkErr error
	proto.Walk(definition,
		proto.WithPackage(func(p *proto.Package) {
			pkg = p.Name
		}),
		proto.WithService(func(s *proto.Service) {
			svc := ProtoService{Package: pkg, Name: s.Name}
			for _, el := range s.Elements {
				prpc, ok := el.(*proto.RPC)
				if !ok {
					continue
				}
				m, err := parseRPC(prpc)
				if err != nil && walkErr == nil {
					walkErr = fmt.Errorf("service %s: %w", s.Name, err)
				}
				svc.Methods = append(svc.Methods, m)
			}
			services = append(services, svc)
		}),
	)
	if walkErr != nil {
		return nil, walkErr
	}
	return services, nil
}

func parseRPC(prpc *proto.RPC) (ProtoMethod, error) {
	m := ProtoMethod{
		Name:           prpc.Name,
		Request:        prpc.RequestType,
		Response:       prpc.ReturnsType,
		StreamsRequest: prpc.StreamsRequest,
		StreamsReturns: prpc.StreamsReturns,
	}
	if prpc.Comment == nil {
		return m, nil
	}
	for _, line := range prpc.Comment.Lines {
		switch {
		case rePost.MatchString(line):
			m.Post = true
		case rePath.MatchString(line):
			m.Path = rePath.FindStringSubmatch(line)[1]
		case reFault.MatchString(line):
			match := reFault.FindStringSubmatch(line)
			f := ProtoFault{Code: match[1], Kind: match[2]}
			if match[3] != "" {
				code, err := strconv.Atoi(match[3])
				if err != nil {
					return m, fmt.Errorf("rpc %s: bad status code %q", prpc.Name, match[3])
				}
				f.StatusCode = code
			}
			m.Faults = append(m.Faults, f)
		case reAny.MatchString(line):
			return m, fmt.Errorf("rpc %s: unknown annotation %q", prpc.Name, strings.TrimSpace(line))
		default:
			m.Comments = append(m.Comments, line)
		}
	}
	return m, nil
}

func (o *options) applyProto() error {
	for _, svc := range o.proto {
		if svc.Name != o.name {
			continue
		}
		for _, m := range svc.Methods {
			if m.Post {
				o.fireAndForget[m.Name] = true
			}
			if m.Path != "" {
				o.paths[m.Name] = m.Path
			}
			for _, f := range m.Faults {
				if o.kinds == nil {
					return fmt.Errorf("%s.%s: fault kind %s declared but no kinds registered", svc.Name, m.Name, f.Kind)
				}
				kind, ok := o.kinds.Lookup(f.Kind)
				if !ok {
					return fmt.Errorf("%s.%s: unknown fault kind %s", svc.Name, m.Name, f.Kind)
				}
				o.faults[m.Name] = append(o.faults[m.Name], fault.Mapping{Code: f.Code, Kind: kind, StatusCode: f.StatusCode})
			}
		}
	}
	return nil
}
