// Command cleanarchguard checks that module packages only import inward:
// presentation and infrastructure may use services and domain, services may
// use domain, and domain uses nothing else.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/roblaszczak/go-cleanarch/cleanarch"
)

func main() {
	var (
		configPath = flag.String("config", ".gocleanarch.yml", "path to the guard config")
		debug      = flag.Bool("debug", false, "enable go-cleanarch debug logging")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("read config: %v\n", err)
	}
	root, err := resolveRoot(cfg.Root)
	if err != nil {
		log.Fatalf("resolve root: %v\n", err)
	}
	if *debug {
		cleanarch.Log.SetOutput(os.Stderr)
	}

	validator := cleanarch.NewValidator(cfg.layerAliases())
	ok, errs, err := validator.Validate(root, cfg.IgnoreTests, cfg.IgnorePackages)
	if err != nil {
		log.Fatalf("run go-cleanarch: %v\n", err)
	}

	violations := filterValidationErrors(errs, cfg)
	if !ok && len(violations) > 0 {
		for _, v := range violations {
			log.Println(v.Error())
		}
		log.Printf("layering check failed: %d violation(s)\n", len(violations))
		os.Exit(1)
	}
	log.Println("layering check passed")
}
