package config

// Template is the configuration file written by "stardrive init".
const Template = `// stardrive project configuration.

// Root build script and its arguments.
entry:      "build.star"
entry_args: []

// Where outputs are written and where the build cache lives.
output_dir: "public"
cache_path: ".stardrive/cache.db"

// Limits for a single script execution.
task_timeout: "5m"
max_steps:    0

// Forget cache entries a successful build no longer reaches.
prune_stale: true

remote: {
	enabled:    true
	timeout:    "30s"
	user_agent: "stardrive"
}

logging: {
	level:  "info"
	format: "console"
}
`
