package main

import (
	"flag"
	"fmt"
	"os"
	"path"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/f0mster/netrpc/internal/codegen"
)

const appTitle = "netrpc contract generator"

var version = "unknown"

func main() {
	fmt.Println(appTitle)
	fmt.Println("Version:", version)

	fDebug := flag.Bool("d", false, "debug mode")
	fVerboseDebug := flag.Bool("dd", false, "more verbose debug mode")
	fProto := flag.String("proto", "", "path to proto file")
	fOutPath := flag.String("out", "", "output path")
	fPkg := flag.String("pkg", "", "go package name, defaults to the proto package")
	flag.Parse()

	if *fDebug || *fVerboseDebug {
		log.Info("debug mode")
		log.SetLevel(log.DebugLevel)

		if *fVerboseDebug {
			log.SetReportCaller(true)
			log.SetFormatter(&log.TextFormatter{
				CallerPrettyfier: func(f *runtime.Frame) (string, string) {
					return fmt.Sprintf("%s()", f.Function),
						fmt.Sprintf(" %s:%d", path.Base(f.File), f.Line)
				},
			})
		}
	} else {
		log.SetLevel(log.InfoLevel)
	}

	if *fProto == "" {
		log.Warn("-proto flag must be used")
		os.Exit(1)
	}
	name := strings.TrimSuffix(path.Base(*fProto), ".proto") + ".rpc.go"
	out := path.Join(path.Dir(*fProto), name)
	if *fOutPath != "" {
		out = path.Join(*fOutPath, name)
	}
	if err := codegen.Generate(*fProto, out, *fPkg); err != nil {
		log.Errorf("gen error: %s", err)
		os.Exit(1)
	}

	log.Println("done.")
}
