package engine_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openfroyo/stardrive/pkg/engine"
	"github.com/openfroyo/stardrive/pkg/sandbox"
	"github.com/openfroyo/stardrive/pkg/stores"
)

func ExampleBuilder_Build() {
	ctx := context.Background()

	dir, err := os.MkdirTemp("", "stardrive-example")
	if err != nil {
		fmt.Println(err)
		return
	}
	defer os.RemoveAll(dir)

	_ = os.WriteFile(filepath.Join(dir, "build.star"), []byte(`result = "hello " + read_file("name.txt")`+"\n"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "name.txt"), []byte("world"), 0o644)

	store, err := stores.Open(ctx, stores.Config{Path: ":memory:"})
	if err != nil {
		fmt.Println(err)
		return
	}
	defer store.Close()

	builder, err := engine.NewBuilder(engine.Options{
		FS:       engine.NewOSFileSystem(dir),
		Cache:    store,
		Objects:  store,
		Executor: sandbox.NewExecutor(sandbox.Options{}),
	})
	if err != nil {
		fmt.Println(err)
		return
	}

	root := engine.MustTaskIdentity("build.star")
	for i := 0; i < 2; i++ {
		report, err := builder.Build(ctx, []engine.TaskIdentity{root})
		if err != nil {
			fmt.Println(err)
			return
		}
		fmt.Printf("executed=%d cached=%d value=%v\n",
			report.Executed, report.Cached, report.Task(root).Output.Value)
	}

	// Output:
	// executed=1 cached=0 value=hello world
	// executed=0 cached=1 value=hello world
}
