// Package config loads the project configuration of a stardrive site.
//
// # Overview
//
// A project is configured by one file at its root, searched for in this
// order:
//
//   - stardrive.cue, unified with the built-in #Site CUE schema
//   - stardrive.yaml or stardrive.yml, validated against the same schema
//
// When neither exists the defaults returned by Default are used. Values from
// the file are overlaid on the defaults, relative paths are resolved against
// the directory holding the file, and the result is checked with validator
// struct tags.
//
// # Example
//
//	// stardrive.cue
//	entry:        "site.star"
//	output_dir:   "public"
//	task_timeout: "2m"
//	remote: user_agent: "my-site"
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Entry, cfg.OutputDir)
//
// # Errors
//
// Invalid files yield a *LoadError listing every problem with its file
// position when one is known.
package config
