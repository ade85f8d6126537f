package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/stardrive/pkg/config"
)

// scaffold is the starter site written by init, keyed by relative path.
var scaffold = []struct {
	path    string
	content string
}{
	{"stardrive.cue", config.Template},
	{"build.star", `# Root task: render every Markdown page, then the index.
load("lib/layout.star", "layout")

pages = []
for name in list_directory("content"):
    if splitext(name)[1] == ".md":
        page = run_task("pages/page.star", [path_join("content", name)])
        pages.append(page.value)

items = "".join(['<li><a href="%s">%s</a></li>' % (p["href"], p["title"]) for p in pages])
write_output("index.html", minify_html(layout("Home", "<ul>" + items + "</ul>")))

result = {"pages": len(pages)}
`},
	{"pages/page.star", `# Renders one Markdown file to HTML.
load("../lib/layout.star", "layout")

src = ARGS[0]
text = read_file("/" + src)
title = basename(splitext(src)[0])
for line in text.splitlines():
    if line.startswith("# "):
        title = line[2:].strip()
        break

href = basename(splitext(src)[0]) + ".html"
write_output(href, minify_html(layout(title, markdown_to_html(text))))

result = {"title": title, "href": href}
`},
	{"lib/layout.star", `def layout(title, body):
    return """<!DOCTYPE html>
<html>
  <head><meta charset="utf-8"><title>%s</title></head>
  <body>
    <main>%s</main>
  </body>
</html>
""" % (title, body)
`},
	{"content/welcome.md", "# Welcome\n\nThis site is built with **stardrive**.\n"},
	{"content/about.md", "# About\n\nEdit the files under `content/` and run `stardrive build`.\n"},
	{".gitignore", "/public/\n/.stardrive/\n"},
}

func newInitCommand(opts *globalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a new site",
		Long: `Create a starter site: a configuration file, a root build script, a page
task, a layout module and two Markdown pages. Existing files are kept unless
--force is given.`,
		Example: `  # Scaffold into the current directory
  stardrive init

  # Scaffold into a new directory
  stardrive init my-site`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := opts.dir
			if len(args) == 1 {
				dir = args[0]
			}

			log.Info().Str("dir", dir).Bool("force", force).Msg("Initializing site")

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Initializing stardrive site in %s\n\n", dir)

			for _, f := range scaffold {
				path := filepath.Join(dir, filepath.FromSlash(f.path))
				if !force {
					if _, err := os.Stat(path); err == nil {
						fmt.Fprintf(out, "- Kept existing: %s\n", f.path)
						continue
					} else if !errors.Is(err, os.ErrNotExist) {
						return fmt.Errorf("failed to stat %s: %w", path, err)
					}
				}
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return fmt.Errorf("failed to create directory for %s: %w", f.path, err)
				}
				if err := os.WriteFile(path, []byte(f.content), 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", f.path, err)
				}
				fmt.Fprintf(out, "✓ Created: %s\n", f.path)
			}

			fmt.Fprintf(out, "\nNext steps:\n")
			fmt.Fprintf(out, "  stardrive build -C %s\n", dir)
			fmt.Fprintf(out, "  stardrive watch -C %s\n", dir)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")

	return cmd
}
