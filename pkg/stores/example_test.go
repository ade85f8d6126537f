package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/openfroyo/stardrive/pkg/hashing"
	"github.com/openfroyo/stardrive/pkg/stores"
)

// ExampleOpen demonstrates opening a migrated in-memory store.
func ExampleOpen() {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.Config{Path: ":memory:"})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_PutObject demonstrates content-addressed object storage.
func ExampleSQLiteStore_PutObject() {
	ctx := context.Background()
	store, _ := stores.Open(ctx, stores.Config{Path: ":memory:"})
	defer store.Close()

	data := []byte("<h1>Hello</h1>")
	hash := hashing.Content(data)
	if err := store.PutObject(ctx, hash, data); err != nil {
		log.Fatal(err)
	}

	got, _ := store.GetObject(ctx, hash)
	fmt.Println(string(got))
	// Output: <h1>Hello</h1>
}
